// Package upload implements the upload front-end: it parses a
// multipart/form-data request into a structured {fields, files} payload and
// validates files against configured limits and allowlists before handing
// off to the engine. It only applies when the transport adapter sees
// Content-Type: multipart/form-data.
package upload

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Mode selects how duplicate and mixed keys are handled.
type Mode string

const (
	ModeFlat       Mode = "flat"
	ModeStructured Mode = "structured"
)

// Limits bounds file counts and sizes.
type Limits struct {
	MaxFiles          int
	MaxFileSize       int64
	MinFileSize       int64
	MaxTotalSize      int64
	MaxFilenameLength int
}

// Allow lists the accepted MIME types and file extensions. Both the MIME
// type and the extension of a file must appear in the allowlist.
type Allow struct {
	MimeTypes  []string
	Extensions []string
}

// Config is the UploadsConfig from the wire contract.
type Config struct {
	EnforceContentType bool
	Mode               Mode
	MaxMemory          int64
	Limits             Limits
	Allow              Allow
}

// DefaultConfig matches the documented defaults: 10 files, 10 MiB per file,
// 1 byte minimum, 20 MiB total, 128-char filenames, png/jpeg/pdf allowed.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeStructured,
		MaxMemory: 32 << 20,
		Limits: Limits{
			MaxFiles:          10,
			MaxFileSize:       10 << 20,
			MinFileSize:       1,
			MaxTotalSize:      20 << 20,
			MaxFilenameLength: 128,
		},
		Allow: Allow{
			MimeTypes:  []string{"image/png", "image/jpeg", "application/pdf"},
			Extensions: []string{".png", ".jpg", ".jpeg", ".pdf"},
		},
	}
}

// File is one uploaded file after validation.
type File struct {
	Filename string
	Size     int64
	MimeType string
	Data     []byte
}

// StructuredPayload is the parsed {fields, files} payload handed to the
// engine as the execute payload. Values are a single item or a []T when the
// same key appeared more than once in the request.
type StructuredPayload struct {
	Fields map[string]any
	Files  map[string]any
}

// ValidationError is the structured error surfaced for every upload
// rejection. error_category distinguishes envelope, content-type, and
// per-file validation failures; Limit/Max/Files are populated only by the
// validators that produced them.
type ValidationError struct {
	Category string
	Message  string
	Limit    any
	Max      any
	Files    []string
}

func (e *ValidationError) Error() string { return e.Message }

func envelopeError(message string) *ValidationError {
	return &ValidationError{Category: "envelope", Message: message}
}

func contentTypeError(message string) *ValidationError {
	return &ValidationError{Category: "content_type", Message: message}
}

func validationError(message string, limit, max any, files []string) *ValidationError {
	return &ValidationError{Category: "validation", Message: message, Limit: limit, Max: max, Files: files}
}

// Envelope carries the three routing fields extracted from the form body.
type Envelope struct {
	Intent  string
	Service string
	Action  string
}

// ContentTypeLookup resolves the content-type an action declares via
// isSpecial.contentType. Kept as a narrow function type so this package
// never needs to import the catalog package.
type ContentTypeLookup func(service, action string) (contentType string, ok bool)

// Parser parses and validates multipart/form-data requests.
type Parser struct {
	cfg Config
}

// NewParser builds a Parser with the given configuration.
func NewParser(cfg Config) *Parser {
	if cfg.Mode == "" {
		cfg.Mode = ModeStructured
	}
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = 32 << 20
	}
	return &Parser{cfg: cfg}
}

// Parse implements the five-step flow from the upload front-end contract:
// envelope extraction, content-type enforcement, payload parsing
// (flat/structured), and the fail-fast file validation chain.
func (p *Parser) Parse(r *http.Request, resolve ContentTypeLookup) (Envelope, StructuredPayload, *ValidationError) {
	if err := r.ParseMultipartForm(p.cfg.MaxMemory); err != nil {
		return Envelope{}, StructuredPayload{}, envelopeError("Form-data must include 'intent', 'service', and 'action' fields")
	}
	form := r.MultipartForm

	env, verr := extractEnvelope(form)
	if verr != nil {
		return Envelope{}, StructuredPayload{}, verr
	}

	if p.cfg.EnforceContentType && resolve != nil {
		if declared, ok := resolve(env.Service, env.Action); ok && declared != "" {
			actual := r.Header.Get("Content-Type")
			if !strings.Contains(strings.ToLower(actual), strings.ToLower(declared)) {
				return env, StructuredPayload{}, contentTypeError(fmt.Sprintf("Content-Type must include %q", declared))
			}
		}
	}

	fieldKeys := routinglessKeys(form.Value)
	fileKeys := make([]string, 0, len(form.File))
	for k := range form.File {
		fileKeys = append(fileKeys, k)
	}

	if p.cfg.Mode == ModeFlat {
		for _, k := range fileKeys {
			if _, isField := form.Value[k]; isField && k != "intent" && k != "service" && k != "action" {
				return env, StructuredPayload{}, envelopeError("mixed key types not allowed")
			}
		}
	}

	headers := make([]*multipart.FileHeader, 0)
	for _, k := range fileKeys {
		headers = append(headers, form.File[k]...)
	}

	if verr := validateFiles(headers, p.cfg.Limits); verr != nil {
		return env, StructuredPayload{}, verr
	}

	files := map[string]any{}
	for _, k := range fileKeys {
		items := make([]File, 0, len(form.File[k]))
		for _, fh := range form.File[k] {
			f, verr := loadFile(fh, p.cfg.Allow)
			if verr != nil {
				return env, StructuredPayload{}, verr
			}
			items = append(items, f)
		}
		files[k] = collapse(items)
	}

	fields := map[string]any{}
	for _, k := range fieldKeys {
		values := form.Value[k]
		strs := make([]string, len(values))
		copy(strs, values)
		fields[k] = collapseStrings(strs)
	}

	return env, StructuredPayload{Fields: fields, Files: files}, nil
}

func extractEnvelope(form *multipart.Form) (Envelope, *ValidationError) {
	intent := firstValue(form, "intent")
	service := firstValue(form, "service")
	action := firstValue(form, "action")
	if intent == "" || service == "" || action == "" {
		return Envelope{}, envelopeError("Form-data must include 'intent', 'service', and 'action' fields")
	}
	return Envelope{Intent: intent, Service: service, Action: action}, nil
}

func firstValue(form *multipart.Form, key string) string {
	if form == nil {
		return ""
	}
	values, ok := form.Value[key]
	if !ok || len(values) == 0 {
		return ""
	}
	return values[0]
}

func routinglessKeys(values map[string][]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "intent" || k == "service" || k == "action" {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// validateFiles runs the first six steps of the fail-fast chain (filename
// length, zero-byte, minimum size, count, maximum size, total size) against
// the full set of uploaded files, in the documented order. The seventh step,
// the MIME/extension allowlist, runs per file in loadFile.
func validateFiles(headers []*multipart.FileHeader, limits Limits) *ValidationError {
	for _, fh := range headers {
		if len(fh.Filename) > limits.MaxFilenameLength {
			return validationError("filename too long", "maxFilenameLength", limits.MaxFilenameLength, []string{fh.Filename})
		}
	}

	var zeroByte []string
	for _, fh := range headers {
		if fh.Size == 0 {
			zeroByte = append(zeroByte, fh.Filename)
		}
	}
	if len(zeroByte) > 0 {
		return validationError("empty file not allowed", nil, nil, zeroByte)
	}

	for _, fh := range headers {
		if fh.Size < limits.MinFileSize {
			return validationError("file below minimum size", "minFileSize", limits.MinFileSize, []string{fh.Filename})
		}
	}

	if len(headers) > limits.MaxFiles {
		return validationError("upload limit exceeded", "maxFiles", limits.MaxFiles, nil)
	}

	var tooLarge []string
	for _, fh := range headers {
		if fh.Size > limits.MaxFileSize {
			tooLarge = append(tooLarge, fh.Filename)
		}
	}
	if len(tooLarge) > 0 {
		return validationError("upload limit exceeded", "maxFileSize", limits.MaxFileSize, tooLarge)
	}

	var total int64
	for _, fh := range headers {
		total += fh.Size
	}
	if total > limits.MaxTotalSize {
		return validationError("upload limit exceeded", "maxTotalSize", limits.MaxTotalSize, nil)
	}

	return nil
}

func loadFile(fh *multipart.FileHeader, allow Allow) (File, *ValidationError) {
	f, err := fh.Open()
	if err != nil {
		return File{}, validationError("unable to read uploaded file", nil, nil, []string{fh.Filename})
	}
	defer f.Close()

	detected, err := mimetype.DetectReader(f)
	if err != nil {
		return File{}, validationError("unable to read uploaded file", nil, nil, []string{fh.Filename})
	}

	ext := extensionOf(fh.Filename)
	if !containsFold(allow.MimeTypes, detected.String()) || !containsFold(allow.Extensions, ext) {
		return File{}, validationError("file type not allowed", nil, nil, []string{fh.Filename})
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return File{}, validationError("unable to read uploaded file", nil, nil, []string{fh.Filename})
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return File{}, validationError("unable to read uploaded file", nil, nil, []string{fh.Filename})
	}

	return File{Filename: fh.Filename, Size: fh.Size, MimeType: detected.String(), Data: data}, nil
}

func extensionOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx == -1 {
		return ""
	}
	return strings.ToLower(filename[idx:])
}

func containsFold(list []string, needle string) bool {
	for _, v := range list {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

func collapse(items []File) any {
	if len(items) == 1 {
		return items[0]
	}
	return items
}

func collapseStrings(items []string) any {
	if len(items) == 1 {
		return items[0]
	}
	return items
}
