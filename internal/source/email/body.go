package email

import (
	"encoding/base64"
	"mime"
	"regexp"
	"strings"

	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source"
)

// maxPartDepth bounds the recursive walk over a part tree. Nodes nested
// deeper than this are ignored.
const maxPartDepth = 32

const defaultAttachmentType = "application/octet-stream"

// Content is the message body reconstructed from a part tree. The fields
// are never nil.
type Content struct {
	PlainText   string
	HTMLText    string
	Attachments []model.Attachment
}

// Extract reconstructs the plain-text body, the HTML body and the
// attachment list of a message from its part tree.
//
// A root without children is decoded as the single body. Otherwise the
// children are walked depth-first: the first text/plain and the first
// text/html part win, and any part with a filename and an attachment id
// is recorded as an attachment regardless of its type. When only HTML was
// found, the plain text is derived from it.
func Extract(root *source.Part) Content {
	w := &partWalker{attachments: []model.Attachment{}}

	if root != nil {
		switch {
		case len(root.Parts) == 0 && root.Body != nil && root.Body.Data != "":
			w.decodeRoot(root)
		case len(root.Parts) > 0:
			for _, child := range root.Parts {
				w.walk(child, 1)
			}
		}
	}

	if w.html != "" && w.plain == "" {
		w.plain = HTMLToText(w.html)
	}

	return Content{
		PlainText:   strings.TrimSpace(w.plain),
		HTMLText:    strings.TrimSpace(w.html),
		Attachments: w.attachments,
	}
}

type partWalker struct {
	plain       string
	html        string
	attachments []model.Attachment
}

func (w *partWalker) decodeRoot(root *source.Part) {
	data, ok := decodeBody(root.Body.Data)
	if !ok {
		return
	}
	if mediaType(root.MIMEType) == "text/html" {
		w.html = data
		w.plain = HTMLToText(data)
		return
	}
	w.plain = data
}

func (w *partWalker) walk(p *source.Part, depth int) {
	if p == nil || depth > maxPartDepth {
		return
	}

	if p.Filename != "" && p.Body != nil && p.Body.AttachmentID != "" {
		mimeType := p.MIMEType
		if mimeType == "" {
			mimeType = defaultAttachmentType
		}
		w.attachments = append(w.attachments, model.Attachment{
			Filename:      p.Filename,
			MIMEType:      mimeType,
			SizeBytes:     p.Body.Size,
			AttachmentRef: p.Body.AttachmentID,
		})
	}

	if p.Body != nil && p.Body.Data != "" {
		switch mediaType(p.MIMEType) {
		case "text/plain":
			if w.plain == "" {
				if data, ok := decodeBody(p.Body.Data); ok {
					w.plain = data
				}
			}
		case "text/html":
			if w.html == "" {
				if data, ok := decodeBody(p.Body.Data); ok {
					w.html = data
				}
			}
		}
	}

	for _, child := range p.Parts {
		w.walk(child, depth+1)
	}
}

// mediaType returns the lower-cased media type without parameters.
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

var bodyEncodings = []*base64.Encoding{
	base64.URLEncoding,
	base64.RawURLEncoding,
	base64.StdEncoding,
	base64.RawStdEncoding,
}

// decodeBody decodes provider body data. The wire format is base64url but
// padded, unpadded and standard-alphabet variants all occur in practice.
func decodeBody(data string) (string, bool) {
	data = strings.TrimSpace(data)
	for _, enc := range bodyEncodings {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b), true
		}
	}
	return "", false
}

// EncodeBody encodes content in the provider's wire format.
func EncodeBody(content []byte) string {
	return base64.URLEncoding.EncodeToString(content)
}

var (
	styleBlockPattern  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	scriptBlockPattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlTagPattern     = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern  = regexp.MustCompile(`\s+`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
	)
)

// HTMLToText renders HTML as a single line of plain text: style and script
// blocks are dropped, tags are stripped, the common named entities are
// unescaped and whitespace runs collapse to one space.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}

	result := styleBlockPattern.ReplaceAllString(html, "")
	result = scriptBlockPattern.ReplaceAllString(result, "")
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = entityReplacer.Replace(result)
	result = whitespacePattern.ReplaceAllString(result, " ")

	return strings.TrimSpace(result)
}
