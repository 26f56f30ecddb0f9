package fsdiff

import "encoding/json"

// recordJSON is the wire shape for FsDiffRecord.to_dict, grounded on
// snapm.fsdiff.engine.FsDiffRecord.to_dict.
type recordJSON struct {
	Path            string       `json:"path"`
	DiffType        DiffType     `json:"diff_type"`
	FileType        string       `json:"file_type"`
	FileCategory    FileCategory `json:"file_category"`
	SizeOld         int64        `json:"size_old"`
	SizeNew         int64        `json:"size_new"`
	SizeDelta       int64        `json:"size_delta"`
	ContentChanged  bool         `json:"content_changed"`
	MetadataChanged bool         `json:"metadata_changed"`
	HasContentDiff  bool         `json:"has_content_diff"`
	MovedFrom       string       `json:"moved_from,omitempty"`
	MovedTo         string       `json:"moved_to,omitempty"`
	ContentSummary  string       `json:"content_diff_summary,omitempty"`
}

func toRecordJSON(r *FsDiffRecord) recordJSON {
	out := recordJSON{
		Path:            r.Path,
		DiffType:        r.DiffType,
		FileType:        r.FileType(),
		FileCategory:    r.FileCategory(),
		SizeOld:         r.SizeOld(),
		SizeNew:         r.SizeNew(),
		SizeDelta:       r.SizeDelta(),
		ContentChanged:  r.ContentChanged,
		MetadataChanged: r.MetadataChanged,
		HasContentDiff:  r.ContentDiff != nil,
		MovedFrom:       r.MovedFrom,
		MovedTo:         r.MovedTo,
	}
	if r.ContentDiff != nil {
		out.ContentSummary = r.ContentDiff.Summary
	}
	return out
}

type resultsJSON struct {
	Timestamp int64        `json:"timestamp"`
	Count     int          `json:"count"`
	Records   []recordJSON `json:"records"`
}

func marshalResults(r *FsDiffResults, pretty bool) (string, error) {
	doc := resultsJSON{Timestamp: r.Timestamp, Count: len(r.Records)}
	for _, rec := range r.Records {
		doc.Records = append(doc.Records, toRecordJSON(rec))
	}
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(doc, "", "    ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
