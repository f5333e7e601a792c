package dicomio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func mustElement(t *testing.T, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	el, err := dicom.NewElement(tg, data)
	require.NoError(t, err)
	return el
}

func TestFromDataset(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.StudyInstanceUID, []string{"1.2.840.1"}),
		mustElement(t, tag.SeriesInstanceUID, []string{"1.2.840.1.1"}),
		mustElement(t, tag.SOPInstanceUID, []string{"1.2.840.1.1.1"}),
		mustElement(t, tag.AccessionNumber, []string{"ACC-42"}),
		mustElement(t, tag.StudyDate, []string{"20240115"}),
		mustElement(t, tag.StudyDescription, []string{"CT CHEST W/O"}),
		mustElement(t, tag.ModalitiesInStudy, []string{"ct", "SR", "CT"}),
	}}

	h := FromDataset(ds)
	assert.Equal(t, "1.2.840.1", h.StudyInstanceUID)
	assert.Equal(t, "1.2.840.1.1", h.SeriesInstanceUID)
	assert.Equal(t, "ACC-42", h.AccessionNumber)
	assert.Equal(t, "20240115", h.StudyDate)
	assert.Equal(t, "CT CHEST W/O", h.StudyDescription)
	assert.Equal(t, []string{"CT", "SR"}, h.Modalities)
}

func TestFromDataset_FallsBackToModality(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.StudyInstanceUID, []string{"1.2.3"}),
		mustElement(t, tag.Modality, []string{"MR"}),
	}}
	h := FromDataset(ds)
	assert.Equal(t, []string{"MR"}, h.Modalities)
	assert.Empty(t, h.AccessionNumber)
}

func TestNormalizeModalities(t *testing.T) {
	assert.Equal(t, []string{"CT", "PT"}, normalizeModalities([]string{`PT\CT`, " ct "}))
	assert.Empty(t, normalizeModalities(nil))
}

func TestGroup(t *testing.T) {
	headers := []*Header{
		{StudyInstanceUID: "2", SeriesInstanceUID: "2.1", SOPInstanceUID: "2.1.1", Modalities: []string{"MR"}},
		{StudyInstanceUID: "1", SeriesInstanceUID: "1.1", SOPInstanceUID: "1.1.1", Modalities: []string{"CT"}, StudyDate: "20240101"},
		{StudyInstanceUID: "1", SeriesInstanceUID: "1.1", SOPInstanceUID: "1.1.2", Modalities: []string{"CT"}, AccessionNumber: "A1"},
		{StudyInstanceUID: "1", SeriesInstanceUID: "1.2", SOPInstanceUID: "1.2.1", Modalities: []string{"SR"}},
		{StudyInstanceUID: "1", SeriesInstanceUID: "1.2", SOPInstanceUID: "1.2.1", Modalities: []string{"SR"}},
	}
	files := []string{"a", "b", "c", "d", "e"}

	studies := Group(headers, files)
	require.Len(t, studies, 2)

	s1 := studies[0]
	assert.Equal(t, "1", s1.StudyInstanceUID)
	assert.Equal(t, 2, s1.SeriesCount)
	assert.Equal(t, 3, s1.ImageCount)
	assert.Equal(t, []string{"CT", "SR"}, s1.Modalities)
	assert.Equal(t, "20240101", s1.StudyDate)
	assert.Equal(t, "A1", s1.AccessionNumber)
	assert.Equal(t, []string{"b", "c", "d", "e"}, s1.Files)

	assert.Equal(t, "2", studies[1].StudyInstanceUID)
	assert.Equal(t, 1, studies[1].ImageCount)
}

func TestScan_SkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.dcm"), []byte("not dicom"), 0o644))

	var skipped []string
	studies, err := Scan([]string{dir}, func(path string, err error) {
		skipped = append(skipped, path)
	})
	require.NoError(t, err)
	assert.Empty(t, studies)
	assert.Equal(t, []string{filepath.Join(dir, "junk.dcm")}, skipped)
}

func TestScan_MissingPath(t *testing.T) {
	_, err := Scan([]string{filepath.Join(t.TempDir(), "absent")}, nil)
	assert.Error(t, err)
}
