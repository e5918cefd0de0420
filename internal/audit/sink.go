package audit

import (
	"crypto/ed25519"

	"scanci/internal/core"
)

// Sink publishes run reports into the journal. It satisfies
// core.ReportSink, so journaling plugs in next to console and file
// publication.
type Sink struct {
	Journal *Journal
	Priv    ed25519.PrivateKey
	Pub     ed25519.PublicKey
}

func (s Sink) Publish(report *core.RunReport) error {
	data, err := report.Canonical()
	if err != nil {
		return err
	}
	_, err = s.Journal.AppendReport(report.RunID, string(report.Overall), data, s.Priv, s.Pub)
	return err
}
