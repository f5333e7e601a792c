// Package dicomio reads study-level DICOM header attributes so received
// studies can be registered without a PACS round trip. Pixel data is never
// loaded.
package dicomio

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Header is what one DICOM instance contributes to its study.
type Header struct {
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	AccessionNumber   string
	Modalities        []string
	StudyDate         string
	StudyDescription  string
	InstitutionName   string
}

// StudyHeader aggregates every instance seen for one StudyInstanceUID.
type StudyHeader struct {
	StudyInstanceUID string
	AccessionNumber  string
	Modalities       []string
	StudyDate        string
	StudyDescription string
	InstitutionName  string
	SeriesCount      int
	ImageCount       int
	Files            []string
}

// ReadFile parses the header of a single DICOM file.
func ReadFile(path string) (*Header, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	h := FromDataset(ds)
	if h.StudyInstanceUID == "" {
		return nil, fmt.Errorf("%s: missing StudyInstanceUID", path)
	}
	return h, nil
}

// FromDataset extracts the attributes used for registration.
func FromDataset(ds dicom.Dataset) *Header {
	h := &Header{
		StudyInstanceUID:  first(ds, tag.StudyInstanceUID),
		SeriesInstanceUID: first(ds, tag.SeriesInstanceUID),
		SOPInstanceUID:    first(ds, tag.SOPInstanceUID),
		AccessionNumber:   first(ds, tag.AccessionNumber),
		StudyDate:         first(ds, tag.StudyDate),
		StudyDescription:  first(ds, tag.StudyDescription),
		InstitutionName:   first(ds, tag.InstitutionName),
	}
	mods := all(ds, tag.ModalitiesInStudy)
	if len(mods) == 0 {
		mods = all(ds, tag.Modality)
	}
	h.Modalities = normalizeModalities(mods)
	return h
}

func all(ds dicom.Dataset, t tag.Tag) []string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil || el.Value == nil {
		return nil
	}
	switch v := el.Value.GetValue().(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s = strings.TrimSpace(strings.TrimRight(s, "\x00")); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []int:
		out := make([]string, 0, len(v))
		for _, n := range v {
			out = append(out, strconv.Itoa(n))
		}
		return out
	default:
		return nil
	}
}

func first(ds dicom.Dataset, t tag.Tag) string {
	if v := all(ds, t); len(v) > 0 {
		return v[0]
	}
	return ""
}

func normalizeModalities(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		for _, part := range strings.Split(m, `\`) {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	sort.Strings(out)
	return out
}

// Group folds instance headers into one StudyHeader per study, ordered by
// StudyInstanceUID. Study-level attributes come from the first instance that
// carries them.
func Group(headers []*Header, files []string) []*StudyHeader {
	byUID := make(map[string]*StudyHeader)
	series := make(map[string]map[string]bool)
	instances := make(map[string]map[string]bool)
	var order []string

	for i, h := range headers {
		sh, ok := byUID[h.StudyInstanceUID]
		if !ok {
			sh = &StudyHeader{StudyInstanceUID: h.StudyInstanceUID}
			byUID[h.StudyInstanceUID] = sh
			series[h.StudyInstanceUID] = make(map[string]bool)
			instances[h.StudyInstanceUID] = make(map[string]bool)
			order = append(order, h.StudyInstanceUID)
		}
		fillEmpty(&sh.AccessionNumber, h.AccessionNumber)
		fillEmpty(&sh.StudyDate, h.StudyDate)
		fillEmpty(&sh.StudyDescription, h.StudyDescription)
		fillEmpty(&sh.InstitutionName, h.InstitutionName)
		sh.Modalities = normalizeModalities(append(sh.Modalities, h.Modalities...))

		if h.SeriesInstanceUID != "" {
			series[h.StudyInstanceUID][h.SeriesInstanceUID] = true
		}
		inst := h.SOPInstanceUID
		if inst == "" && i < len(files) {
			inst = files[i]
		}
		instances[h.StudyInstanceUID][inst] = true
		if i < len(files) {
			sh.Files = append(sh.Files, files[i])
		}
	}

	sort.Strings(order)
	out := make([]*StudyHeader, 0, len(order))
	for _, uid := range order {
		sh := byUID[uid]
		sh.SeriesCount = len(series[uid])
		sh.ImageCount = len(instances[uid])
		out = append(out, sh)
	}
	return out
}

func fillEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Scan reads every file under the given paths (directories are walked) and
// groups them by study. Files that fail to parse are reported to skip and
// otherwise ignored.
func Scan(paths []string, skip func(path string, err error)) ([]*StudyHeader, error) {
	var headers []*Header
	var files []string

	visit := func(path string) {
		h, err := ReadFile(path)
		if err != nil {
			if skip != nil {
				skip(path, err)
			}
			return
		}
		headers = append(headers, h)
		files = append(files, path)
	}

	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				visit(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return Group(headers, files), nil
}
