package main

import (
	"flag"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/netqual/pkg/netqual/model"
)

var netqualSchema string

func init() {
	flag.StringVar(&netqualSchema, "netqual", "/var/spool/datatypes/netqual.json", "filename to write netqual schema")
}

func main() {
	flag.Parse()
	// Generate and save the schema for autoloading.
	sch, err := bigquery.InferSchema(model.ArchivalData{})
	rtx.Must(err, "failed to generate netqual schema")
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal netqual schema")
	err = os.WriteFile(netqualSchema, b, 0o644)
	rtx.Must(err, "failed to write netqual schema")
}
