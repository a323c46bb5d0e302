package main

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// barProgress renders reindex progress as a terminal progress bar.
type barProgress struct {
	w           io.Writer
	description string
	bar         *progressbar.ProgressBar
}

func newBarProgress(w io.Writer, tenant string) *barProgress {
	if w == nil {
		w = os.Stderr
	}
	return &barProgress{w: w, description: "Reindexing " + tenant}
}

func (p *barProgress) Start(total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(p.description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *barProgress) Update(current int) {
	if p.bar != nil {
		_ = p.bar.Set(current)
	}
}

func (p *barProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
