package dns

import (
	"encoding/binary"
	"net/netip"
	"strings"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/nczempin/httpc-embedded/errors"
)

const (
	// ServerPort is the well-known DNS server port.
	ServerPort = 53
	// MinBufSize is the smallest datagram buffer a Resolver accepts; every
	// DNS server must fit a UDP reply in it.
	MinBufSize = 512
	// maxNameLen is the longest presentation-format name, trailing dot included.
	maxNameLen = 254
)

// appendQuery encodes a recursive A/IN question for hostname into buf[:0].
func appendQuery(buf []byte, id uint16, hostname string) ([]byte, error) {
	name, err := questionName(hostname)
	if err != nil {
		return nil, err
	}

	b := dnsmessage.NewBuilder(buf[:0], dnsmessage.Header{
		ID:               id,
		RecursionDesired: true,
	})
	if err := b.StartQuestions(); err != nil {
		return nil, errors.Wrap(errors.ErrorInvalidArgument, "encode query", err)
	}
	err = b.Question(dnsmessage.Question{
		Name:  name,
		Type:  dnsmessage.TypeA,
		Class: dnsmessage.ClassINET,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrorInvalidArgument, "invalid hostname "+hostname, err)
	}
	msg, err := b.Finish()
	if err != nil {
		return nil, errors.Wrap(errors.ErrorInvalidArgument, "encode query", err)
	}
	return msg, nil
}

func questionName(hostname string) (dnsmessage.Name, error) {
	if hostname == "" || hostname == "." {
		return dnsmessage.Name{}, errors.NewInvalidArgumentError("empty hostname")
	}
	fqdn := hostname
	if !strings.HasSuffix(fqdn, ".") {
		fqdn += "."
	}
	if len(fqdn) > maxNameLen {
		return dnsmessage.Name{}, errors.NewInvalidArgumentError("hostname too long: " + hostname)
	}
	name, err := dnsmessage.NewName(fqdn)
	if err != nil {
		return dnsmessage.Name{}, errors.Wrap(errors.ErrorInvalidArgument, "invalid hostname "+hostname, err)
	}
	return name, nil
}

// reply is the part of a DNS response the resolver acts on.
type reply struct {
	id        uint16
	rcode     dnsmessage.RCode
	addr      netip.Addr // first A/IN answer, invalid if none
	truncated bool
}

// parseReply decodes msg. matched is false when msg is not a response to
// the query with transaction ID want; such datagrams are ignored by the
// caller and their content is never reported.
func parseReply(msg []byte, want uint16) (r reply, matched bool, err error) {
	// A runt cannot carry our ID.
	if len(msg) < 2 || binary.BigEndian.Uint16(msg) != want {
		return reply{}, false, nil
	}

	var p dnsmessage.Parser
	hdr, err := p.Start(msg)
	if err != nil {
		return reply{}, true, errors.Wrap(errors.ErrorDnsMalformedResponse, "decode header", err)
	}
	if !hdr.Response {
		return reply{}, false, nil
	}

	r = reply{id: hdr.ID, rcode: hdr.RCode, truncated: hdr.Truncated}
	if hdr.RCode != dnsmessage.RCodeSuccess {
		return r, true, nil
	}

	if err := p.SkipAllQuestions(); err != nil {
		return reply{}, true, errors.Wrap(errors.ErrorDnsMalformedResponse, "decode question", err)
	}
	for {
		h, err := p.AnswerHeader()
		if err == dnsmessage.ErrSectionDone {
			break
		} else if err != nil {
			return reply{}, true, errors.Wrap(errors.ErrorDnsMalformedResponse, "decode answer", err)
		}

		if h.Type == dnsmessage.TypeA && h.Class == dnsmessage.ClassINET {
			a, err := p.AResource()
			if err != nil {
				return reply{}, true, errors.Wrap(errors.ErrorDnsMalformedResponse, "decode A record", err)
			}
			r.addr = netip.AddrFrom4(a.A)
			return r, true, nil
		}
		if err := p.SkipAnswer(); err != nil {
			return reply{}, true, errors.Wrap(errors.ErrorDnsMalformedResponse, "skip answer", err)
		}
	}
	return r, true, nil
}
