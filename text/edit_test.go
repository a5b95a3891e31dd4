package text

import (
	"testing"

	"snipsession/assert"
	"snipsession/types"
)

func TestComputeEdit_Identical(t *testing.T) {
	assert.Nil(t, ComputeEdit("foo(bar)", "foo(bar)"), "identical strings")
	assert.Nil(t, ComputeEdit("", ""), "empty strings")
}

func TestComputeEdit(t *testing.T) {
	tests := []struct {
		name    string
		oldText string
		newText string
		want    types.TextEdit
	}{
		{
			name:    "append inside placeholder",
			oldText: "foo(bar, baz)",
			newText: "foo(barx, baz)",
			want:    types.TextEdit{Offset: 7, RemovedLength: 0, InsertedText: "x"},
		},
		{
			name:    "replace word",
			oldText: "foo(bar, baz)",
			newText: "foo(qux, baz)",
			want:    types.TextEdit{Offset: 4, RemovedLength: 3, InsertedText: "qux"},
		},
		{
			name:    "backspace",
			oldText: "foo(bar, baz)",
			newText: "foo(ba, baz)",
			want:    types.TextEdit{Offset: 6, RemovedLength: 1, InsertedText: ""},
		},
		{
			name:    "repeated character resolves to the earliest position after prefix",
			oldText: "foo(bar)",
			newText: "foo(baar)",
			want:    types.TextEdit{Offset: 6, RemovedLength: 0, InsertedText: "a"},
		},
		{
			name:    "insert into empty",
			oldText: "",
			newText: "abc",
			want:    types.TextEdit{Offset: 0, RemovedLength: 0, InsertedText: "abc"},
		},
		{
			name:    "clear line",
			oldText: "abc",
			newText: "",
			want:    types.TextEdit{Offset: 0, RemovedLength: 3, InsertedText: ""},
		},
		{
			name:    "multibyte offsets are in runes",
			oldText: "héllo wörld",
			newText: "héllo wörlds",
			want:    types.TextEdit{Offset: 11, RemovedLength: 0, InsertedText: "s"},
		},
	}

	for _, tt := range tests {
		got := ComputeEdit(tt.oldText, tt.newText)
		assert.NotNil(t, got, tt.name)
		if got == nil {
			continue
		}
		assert.Equal(t, tt.want, *got, tt.name)
		assert.Equal(t, tt.newText, got.Apply(tt.oldText), tt.name+" (apply)")
	}
}

func TestComputeEdit_InvalidUTF8(t *testing.T) {
	tests := []struct {
		name    string
		oldText string
		newText string
		want    types.TextEdit
	}{
		{
			name:    "invalid byte appended",
			oldText: "a",
			newText: "a\xff",
			want:    types.TextEdit{Offset: 1, InsertedText: "\xff"},
		},
		{
			name:    "one invalid byte replaced by another",
			oldText: "x\xfey",
			newText: "x\xffy",
			want:    types.TextEdit{Offset: 1, RemovedLength: 1, InsertedText: "\xff"},
		},
		{
			name:    "edit after an invalid byte",
			oldText: "\xffé",
			newText: "\xffés",
			want:    types.TextEdit{Offset: 2, InsertedText: "s"},
		},
	}

	for _, tt := range tests {
		got := ComputeEdit(tt.oldText, tt.newText)
		assert.NotNil(t, got, tt.name)
		if got == nil {
			continue
		}
		assert.Equal(t, tt.want, *got, tt.name)
		assert.Equal(t, tt.newText, got.Apply(tt.oldText), tt.name+" (apply keeps bytes)")
	}
}

func TestByteCol(t *testing.T) {
	assert.Equal(t, 1, ByteCol("foo", 0), "start")
	assert.Equal(t, 5, ByteCol("foo(bar)", 4), "ascii")
	assert.Equal(t, 4, ByteCol("äb", 2), "after two-byte rune")
	assert.Equal(t, 4, ByteCol("foo", 10), "clamped")
	assert.Equal(t, 3, ByteCol("\xffb", 2), "invalid byte is one column")
}

func TestByteLen(t *testing.T) {
	assert.Equal(t, 3, ByteLen("foo(bar)", 4, 3), "ascii")
	assert.Equal(t, 3, ByteLen("xäb", 1, 2), "multibyte")
	assert.Equal(t, 0, ByteLen("foo", 3, 0), "empty span")
	assert.Equal(t, 1, ByteLen("foo", 2, 9), "clamped")
}

func TestRuneLen(t *testing.T) {
	assert.Equal(t, 3, RuneLen("äöü"), "multibyte")
}
