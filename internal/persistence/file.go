// Package persistence writes archival results to disk.
package persistence

import (
	"encoding/json"
	"os"
	"path"
	"time"
)

// DataFile describes a result file written to disk.
type DataFile struct {
	// Prefix is the data directory the file was written under.
	Prefix string
	// Datatype is the kind of data, e.g. "netqual".
	Datatype string
	// Subtest further qualifies Datatype. It may be empty.
	Subtest string
	// UUID identifies the session that produced the data.
	UUID string
	// Path is the full path of the file.
	Path string
	// Size is the number of bytes written.
	Size int
}

// WriteDataFile marshals data as JSON and writes it to a new file under
// <datadir>/<datatype>/YYYY/MM/DD/. The file name includes datatype, subtest,
// the current time and uuid. Existing files are never overwritten.
func WriteDataFile(datadir, datatype, subtest, uuid string, data any) (*DataFile, error) {
	timestamp := time.Now().UTC()
	dir := path.Join(datadir, datatype, timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	name := datatype
	if subtest != "" {
		name += "-" + subtest
	}
	filepath := path.Join(dir, name+"-"+
		timestamp.Format("20060102T150405.000000000Z")+"."+uuid+".json")

	content, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	fp, err := os.OpenFile(filepath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	n, err := fp.Write(content)
	if err != nil {
		fp.Close()
		return nil, err
	}
	if err := fp.Close(); err != nil {
		return nil, err
	}
	return &DataFile{
		Prefix:   datadir,
		Datatype: datatype,
		Subtest:  subtest,
		UUID:     uuid,
		Path:     filepath,
		Size:     n,
	}, nil
}
