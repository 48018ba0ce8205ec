package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

const sampleCSV = "note_url,title\nhttps://www.xiaohongshu.com/explore/abc,春日穿搭\n"

func writeEncoded(t *testing.T, enc encoding.Encoding, content string) string {
	t.Helper()
	data := []byte(content)
	if enc != nil {
		var err error
		data, err = enc.NewEncoder().Bytes(data)
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), "notes.csv")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestReadTable_Encodings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		enc      encoding.Encoding
		prefix   string
		wantName string
	}{
		{"utf-8", nil, "", "utf-8"},
		{"utf-8 bom", nil, "\ufeff", "utf-8"},
		{"utf-16le bom", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), "", "utf-16"},
		{"utf-16be bom", unicode.UTF16(unicode.BigEndian, unicode.UseBOM), "", "utf-16"},
		{"gb18030", simplifiedchinese.GB18030, "", "gb18030"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeEncoded(t, tt.enc, tt.prefix+sampleCSV)

			table, err := ReadTable(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, table.Encoding)
			assert.Equal(t, []string{"note_url", "title"}, table.Header)
			require.Len(t, table.Rows, 1)
			assert.Equal(t, "春日穿搭", table.Cell(0, 1))
		})
	}
}

func TestReadTable_Errors(t *testing.T) {
	t.Parallel()

	_, err := ReadTable(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = ReadTable(writeEncoded(t, nil, ""))
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestTable_Columns(t *testing.T) {
	t.Parallel()

	table, err := ReadTable(writeEncoded(t, nil, "note_url,image_list\n a ,b\nc\n"))
	require.NoError(t, err)

	assert.Equal(t, 0, table.Column("note_url"))
	assert.Equal(t, -1, table.Column("video_url"))
	assert.Equal(t, "a", table.Cell(0, 0))
	assert.Equal(t, "", table.Cell(1, 1), "short rows are padded")
	assert.Equal(t, "", table.Cell(0, -1))

	idx := table.EnsureColumn("image_txt")
	assert.Equal(t, 2, idx)
	assert.Equal(t, idx, table.EnsureColumn("image_txt"))
	for _, row := range table.Rows {
		assert.Len(t, row, 3)
	}

	table.Rows[0][idx] = "line one\nline \"two\", three"
	out := filepath.Join(t.TempDir(), "nested", "out.csv")
	require.NoError(t, table.Write(out))

	again, err := ReadTable(out)
	require.NoError(t, err)
	assert.Equal(t, table.Header, again.Header)
	assert.Equal(t, "line one\nline \"two\", three", again.Rows[0][idx])
}

func TestReadTable_RowsWiderThanHeader(t *testing.T) {
	t.Parallel()

	table, err := ReadTable(writeEncoded(t, nil,
		"note_url,column_3\nhttps://a.test/1,x,y,z\nhttps://a.test/2\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"note_url", "column_3", "column_3_2", "column_4"}, table.Header)
	assert.Equal(t, 2, table.ExtraColumns)
	for _, row := range table.Rows {
		assert.Len(t, row, 4)
	}
	assert.Equal(t, "z", table.Cell(0, 3))
	assert.Equal(t, "", table.Cell(1, 3))

	out := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, table.Write(out))
	again, err := ReadTable(out)
	require.NoError(t, err)
	assert.Equal(t, table.Header, again.Header)
	assert.Equal(t, []string{"https://a.test/1", "x", "y", "z"}, again.Rows[0], "no cell is dropped on write")
	assert.Zero(t, again.ExtraColumns)
}
