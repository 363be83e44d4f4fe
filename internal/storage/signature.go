package storage

// signatureRule matches Bytes at Offset in a file header.
type signatureRule struct {
	Bytes  []byte
	Offset int
}

type signatureEntry struct {
	MimeType string
	Rules    []signatureRule
}

// signatureTable is scanned in declaration order by DetectMimeType, so the
// order breaks ties between formats sharing a container header (RIFF).
var signatureTable = []signatureEntry{
	{MimeType: "image/jpeg", Rules: []signatureRule{
		{Bytes: []byte{0xFF, 0xD8, 0xFF}},
	}},
	{MimeType: "image/png", Rules: []signatureRule{
		{Bytes: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	}},
	{MimeType: "image/gif", Rules: []signatureRule{
		{Bytes: []byte("GIF87a")},
		{Bytes: []byte("GIF89a")},
	}},
	{MimeType: "image/webp", Rules: []signatureRule{
		{Bytes: []byte("RIFF")},
		{Bytes: []byte("WEBP"), Offset: 8},
	}},
	{MimeType: "video/mp4", Rules: []signatureRule{
		{Bytes: []byte("ftyp"), Offset: 4},
	}},
	{MimeType: "video/webm", Rules: []signatureRule{
		{Bytes: []byte{0x1A, 0x45, 0xDF, 0xA3}},
	}},
	{MimeType: "audio/mpeg", Rules: []signatureRule{
		{Bytes: []byte("ID3")},
		{Bytes: []byte{0xFF, 0xFB}},
	}},
	{MimeType: "audio/ogg", Rules: []signatureRule{
		{Bytes: []byte("OggS")},
	}},
	{MimeType: "audio/wav", Rules: []signatureRule{
		{Bytes: []byte("RIFF")},
		{Bytes: []byte("WAVE"), Offset: 8},
	}},
}

func (r signatureRule) matches(buf []byte) bool {
	if len(buf) < r.Offset+len(r.Bytes) {
		return false
	}
	for i, b := range r.Bytes {
		if buf[r.Offset+i] != b {
			return false
		}
	}
	return true
}

func (e signatureEntry) matches(buf []byte) bool {
	for _, rule := range e.Rules {
		if rule.matches(buf) {
			return true
		}
	}
	return false
}

func lookupSignature(mimeType string) (signatureEntry, bool) {
	for _, entry := range signatureTable {
		if entry.MimeType == mimeType {
			return entry, true
		}
	}
	return signatureEntry{}, false
}

// HasSignature reports whether mimeType has an entry in the signature table.
func HasSignature(mimeType string) bool {
	_, ok := lookupSignature(mimeType)
	return ok
}

// ValidateContent 校验文件头是否与声明的 MIME 类型一致。
// 未登记签名的类型直接放行。
func ValidateContent(buf []byte, claimedType string) bool {
	entry, ok := lookupSignature(claimedType)
	if !ok {
		return true
	}
	return entry.matches(buf)
}

// DetectMimeType returns the first table type whose signature matches buf,
// or an empty string when nothing matches.
func DetectMimeType(buf []byte) string {
	for _, entry := range signatureTable {
		if entry.matches(buf) {
			return entry.MimeType
		}
	}
	return ""
}
