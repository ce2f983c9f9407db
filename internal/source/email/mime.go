package email

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/mondzorg/inbox/internal/source"
)

// ParseMIME parses a raw RFC 5322 message into the provider part tree.
// Transfer encodings and charsets are decoded; body data is re-encoded in
// the wire format Extract expects. Parts with a filename carry an
// attachment id equal to their part id; their data is kept only when
// keepAttachments is set.
func ParseMIME(raw []byte, keepAttachments bool) (*source.Part, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	return entityToPart(entity, "", 0, keepAttachments)
}

func entityToPart(
	e *message.Entity, partID string, depth int, keepAttachments bool,
) (*source.Part, error) {
	mediaType, params, _ := e.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}

	p := &source.Part{
		PartID:   partID,
		MIMEType: mediaType,
		Headers:  []source.Header{},
	}

	fields := e.Header.Fields()
	for fields.Next() {
		p.Headers = append(p.Headers, source.Header{
			Name:  fields.Key(),
			Value: fields.Value(),
		})
	}

	_, dispParams, _ := e.Header.ContentDisposition()
	p.Filename = dispParams["filename"]
	if p.Filename == "" {
		p.Filename = params["name"]
	}

	if mr := e.MultipartReader(); mr != nil {
		if depth >= maxPartDepth {
			return p, nil
		}
		for i := 0; ; i++ {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
				return p, fmt.Errorf("reading part %s: %w", childID(partID, i), err)
			}
			cp, err := entityToPart(child, childID(partID, i), depth+1, keepAttachments)
			if err != nil {
				return p, err
			}
			p.Parts = append(p.Parts, cp)
		}
		return p, nil
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		return p, fmt.Errorf("reading body of part %q: %w", partID, err)
	}

	p.Body = &source.PartBody{Size: int64(len(body))}
	if p.Filename != "" {
		p.Body.AttachmentID = attachmentID(partID)
		if !keepAttachments {
			return p, nil
		}
	}
	p.Body.Data = EncodeBody(body)

	return p, nil
}

func childID(parent string, index int) string {
	if parent == "" {
		return strconv.Itoa(index)
	}
	return parent + "." + strconv.Itoa(index)
}

// attachmentID keeps single-part attachment messages addressable.
func attachmentID(partID string) string {
	if partID == "" {
		return "root"
	}
	return partID
}

// findAttachment returns the part carrying attachment id, or nil.
func findAttachment(p *source.Part, id string, depth int) *source.Part {
	if p == nil || depth > maxPartDepth {
		return nil
	}
	if p.Body != nil && p.Body.AttachmentID == id {
		return p
	}
	for _, child := range p.Parts {
		if found := findAttachment(child, id, depth+1); found != nil {
			return found
		}
	}
	return nil
}
