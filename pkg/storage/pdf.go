package storage

import (
	"log/slog"

	"github.com/ledongthuc/pdf"
)

// PDFPageCount probes a PDF on disk for its page count. The probe is
// best-effort: corrupt or non-PDF input yields zero, never an error, since
// page count is display metadata only.
func PDFPageCount(path string) (count int) {
	defer func() {
		// The parser panics on some malformed inputs.
		if r := recover(); r != nil {
			slog.Warn("pdf page probe panicked", "path", path, "reason", r)
			count = 0
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		slog.Debug("pdf page probe failed", "path", path, "err", err)
		return 0
	}
	defer f.Close()
	return reader.NumPage()
}
