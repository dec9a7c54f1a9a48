package upstream

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// File is one uploaded part. Field is the form field it is sent under.
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

type Field struct {
	Name  string
	Value string
}

// Form is an outgoing multipart body. Parts are written in insertion order.
type Form struct {
	Fields []Field
	Files  []File
}

func (f *Form) AddField(name, value string) {
	f.Fields = append(f.Fields, Field{Name: name, Value: value})
}

func (f *Form) AddFile(file File) {
	f.Files = append(f.Files, file)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encode renders the form, preserving each file's declared content type.
func (f *Form) Encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, field := range f.Fields {
		if err := w.WriteField(field.Name, field.Value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", field.Name, err)
		}
	}

	for _, file := range f.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(file.Field), quoteEscaper.Replace(file.Name)))
		ct := file.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part for %s: %w", file.Name, err)
		}
		if _, err := part.Write(file.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write part for %s: %w", file.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
