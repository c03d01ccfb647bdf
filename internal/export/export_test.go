package export

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cardname-harvester/internal/names"
)

type staticSource names.Set

func (s staticSource) Load() names.Set { return names.Set(s) }

type fakeUploader struct {
	object      string
	contentType string
	body        []byte
	err         error
}

func (f *fakeUploader) Put(_ context.Context, object, contentType string, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.object, f.contentType, f.body = object, contentType, body
	return "gs://bucket/" + object, nil
}

func TestEncodeCSV(t *testing.T) {
	payload, contentType, err := Encode(FormatCSV, names.NewSet("ボルメテウス", "Alpha", `Say "hi", friend`))
	require.NoError(t, err)
	require.Equal(t, "text/csv; charset=utf-8", contentType)
	require.Equal(t, "Alpha\r\n\"Say \"\"hi\"\", friend\"\r\nボルメテウス\r\n", string(payload))
}

func TestEncodeJSON(t *testing.T) {
	payload, contentType, err := Encode(FormatJSON, names.NewSet("ボルメテウス", "Alpha"))
	require.NoError(t, err)
	require.Equal(t, "application/json; charset=utf-8", contentType)
	require.Equal(t, "[\n  \"Alpha\",\n  \"ボルメテウス\"\n]\n", string(payload))
}

func TestEncodeRejectsUnknownFormat(t *testing.T) {
	_, _, err := Encode("xml", names.NewSet("Alpha"))
	require.ErrorContains(t, err, "unsupported export format")
}

func TestExportWritesFileAndUploads(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "dm_cardnames.csv")
	up := &fakeUploader{}
	e, err := New(staticSource(names.NewSet("Beta", "Not Found", "Alpha")), names.NewFilter(nil), up, zap.NewNop())
	require.NoError(t, err)

	report, err := e.Export(context.Background(), Options{Format: FormatCSV, Out: out, Object: "exports/names.csv"})
	require.NoError(t, err)
	require.Equal(t, 2, report.Names)
	require.Equal(t, out, report.Path)
	require.Equal(t, "gs://bucket/exports/names.csv", report.URI)

	onDisk, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "Alpha\r\nBeta\r\n", string(onDisk))
	require.Equal(t, onDisk, up.body)
	require.Equal(t, "exports/names.csv", up.object)
	require.Equal(t, "text/csv; charset=utf-8", up.contentType)
}

func TestExportUploadFailure(t *testing.T) {
	e, err := New(staticSource(names.NewSet("Alpha")), nil, &fakeUploader{err: errors.New("403")}, nil)
	require.NoError(t, err)
	_, err = e.Export(context.Background(), Options{Format: FormatJSON, Object: "names.json"})
	require.ErrorContains(t, err, "upload export")
}

func TestExportRequiresTarget(t *testing.T) {
	e, err := New(staticSource(names.NewSet()), nil, nil, nil)
	require.NoError(t, err)

	_, err = e.Export(context.Background(), Options{Format: FormatCSV})
	require.Error(t, err)

	_, err = e.Export(context.Background(), Options{Format: FormatCSV, Object: "names.csv"})
	require.ErrorContains(t, err, "without an uploader")
}
