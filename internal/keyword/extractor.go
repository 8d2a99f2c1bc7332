// Package keyword turns filenames into normalized keyword sets used by the
// theme clusterer. Extraction is a total function: any input produces a
// result, never an error.
package keyword

import (
	"path/filepath"
	"strings"
	"unicode"
)

// FileKind is a coarse type hint derived from the file extension.
type FileKind string

const (
	KindDocument FileKind = "document"
	KindVideo    FileKind = "video"
	KindAudio    FileKind = "audio"
	KindImage    FileKind = "image"
	KindArchive  FileKind = "archive"
	KindCode     FileKind = "code"
	KindData     FileKind = "data"
	KindOther    FileKind = "other"
)

// Keywords is the extraction result for a single filename.
type Keywords struct {
	Tokens    []string
	DateHints []string
	TypeHint  FileKind
}

var kindByExt = map[string]FileKind{
	".pdf": KindDocument, ".doc": KindDocument, ".docx": KindDocument,
	".txt": KindDocument, ".md": KindDocument, ".rtf": KindDocument,
	".odt": KindDocument, ".pages": KindDocument, ".epub": KindDocument,
	".ppt": KindDocument, ".pptx": KindDocument, ".key": KindDocument,

	".mp4": KindVideo, ".mov": KindVideo, ".avi": KindVideo,
	".mkv": KindVideo, ".webm": KindVideo, ".m4v": KindVideo,

	".mp3": KindAudio, ".wav": KindAudio, ".flac": KindAudio,
	".aac": KindAudio, ".ogg": KindAudio, ".m4a": KindAudio,

	".jpg": KindImage, ".jpeg": KindImage, ".png": KindImage,
	".gif": KindImage, ".heic": KindImage, ".webp": KindImage,
	".svg": KindImage, ".tiff": KindImage, ".raw": KindImage,

	".zip": KindArchive, ".tar": KindArchive, ".gz": KindArchive,
	".rar": KindArchive, ".7z": KindArchive, ".dmg": KindArchive,

	".go": KindCode, ".py": KindCode, ".js": KindCode, ".ts": KindCode,
	".rs": KindCode, ".c": KindCode, ".cpp": KindCode, ".java": KindCode,
	".swift": KindCode, ".rb": KindCode, ".sh": KindCode,

	".csv": KindData, ".json": KindData, ".xml": KindData,
	".yaml": KindData, ".yml": KindData, ".xls": KindData,
	".xlsx": KindData, ".numbers": KindData, ".sqlite": KindData,
	".db": KindData, ".parquet": KindData,
}

// stopwords are tokens too generic to distinguish themes.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "with": true, "my": true, "new": true, "old": true,
	"copy": true, "final": true, "draft": true, "untitled": true,
	"file": true, "document": true, "img": true, "image": true,
	"scan": true, "screenshot": true, "export": true, "backup": true,
	"version": true, "ver": true, "rev": true, "tmp": true, "temp": true,
}

// Extract normalizes a filename into lowercase keyword tokens, pulls
// 4-digit years out as date hints, and maps the extension to a FileKind.
func Extract(name string) Keywords {
	base := filepath.Base(name)
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	kind, ok := kindByExt[ext]
	if !ok {
		kind = KindOther
	}

	raw := splitTokens(stem)

	kw := Keywords{TypeHint: kind}
	seen := make(map[string]bool, len(raw))
	for _, tok := range raw {
		tok = strings.ToLower(tok)
		if looksLikeYear(tok) {
			if !seen["y:"+tok] {
				seen["y:"+tok] = true
				kw.DateHints = append(kw.DateHints, tok)
			}
			continue
		}
		if len(tok) < 2 || stopwords[tok] || isNumeric(tok) {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		kw.Tokens = append(kw.Tokens, tok)
	}
	return kw
}

// splitTokens breaks a filename stem on separators and camelCase
// boundaries: "myTaxReturn_2023-final" -> [my Tax Return 2023 final].
func splitTokens(s string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '.' || r == ' ' || r == '(' || r == ')' || r == '[' || r == ']' || r == ',' || r == '+':
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur.WriteRune(r)
		case unicode.IsDigit(r) && i > 0 && unicode.IsLetter(runes[i-1]):
			flush()
			cur.WriteRune(r)
		case unicode.IsLetter(r) && i > 0 && unicode.IsDigit(runes[i-1]):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func looksLikeYear(tok string) bool {
	if len(tok) != 4 || !isNumeric(tok) {
		return false
	}
	return tok[0] == '1' || tok[0] == '2'
}

func isNumeric(tok string) bool {
	for _, r := range tok {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(tok) > 0
}
