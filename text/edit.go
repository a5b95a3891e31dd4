package text

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"snipsession/types"
)

var dmp = diffmatchpatch.New()

// ComputeEdit finds the single contiguous region that turns oldText into newText.
// Returns nil when the strings are identical.
//
// The region is bounded by the longest common prefix and the longest common
// suffix of what remains, so it is linear in the line length and never splits
// into several hunks. Offsets are rune offsets; the inserted text is cut from
// newText byte for byte.
func ComputeEdit(oldText, newText string) *types.TextEdit {
	if oldText == newText {
		return nil
	}

	var prefix, suffix int
	if utf8.ValidString(oldText) && utf8.ValidString(newText) {
		prefix = dmp.DiffCommonPrefix(oldText, newText)
		// Suffix is measured on the remainders so prefix and suffix never overlap
		suffix = dmp.DiffCommonSuffix(
			oldText[types.ByteOffset(oldText, prefix):],
			newText[types.ByteOffset(newText, prefix):])
	} else {
		// diffmatchpatch would fold distinct invalid bytes into U+FFFD
		prefix, suffix = commonRuns(oldText, newText)
	}

	oldLen, newLen := RuneLen(oldText), RuneLen(newText)
	return &types.TextEdit{
		Offset:        prefix,
		RemovedLength: oldLen - prefix - suffix,
		InsertedText:  newText[types.ByteOffset(newText, prefix):types.ByteOffset(newText, newLen-suffix)],
	}
}

// commonRuns returns the common prefix and non-overlapping common suffix of
// a and b in runes, comparing the raw bytes of each rune.
func commonRuns(a, b string) (prefix, suffix int) {
	ar, br := splitRunes(a), splitRunes(b)
	for prefix < len(ar) && prefix < len(br) && ar[prefix] == br[prefix] {
		prefix++
	}
	for suffix < len(ar)-prefix && suffix < len(br)-prefix &&
		ar[len(ar)-1-suffix] == br[len(br)-1-suffix] {
		suffix++
	}
	return prefix, suffix
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for i := 0; i < len(s); {
		_, size := utf8.DecodeRuneInString(s[i:])
		out = append(out, s[i:i+size])
		i += size
	}
	return out
}

// RuneLen returns the length of s in runes
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// ByteCol converts a rune offset within line to a 1-based byte column,
// the unit Neovim uses for cursor and selection positions.
func ByteCol(line string, runeOffset int) int {
	return types.ByteOffset(line, runeOffset) + 1
}

// ByteLen returns the byte length of the rune range [start, start+length) of line
func ByteLen(line string, start, length int) int {
	from := types.ByteOffset(line, start)
	return types.ByteOffset(line, max(start, 0)+max(length, 0)) - from
}
