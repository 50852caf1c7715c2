package search

import "github.com/sirupsen/logrus"

// AmpStrategy searches for the shortest input that still triggers a UDP
// amplification: assuming amplification is driven directly and linearly
// by input length, it repeatedly drops the last byte and replays until
// the buffer is empty, then retires the cond.
type AmpStrategy struct {
	handler *Handler
	enabled bool
}

func (a *AmpStrategy) Run() {
	if !a.enabled {
		a.handler.Cond.MarkAsDone()
		return
	}

	buf := make([]byte, len(a.handler.Buf))
	copy(buf, a.handler.Buf)

	logrus.WithField("cmpid", a.handler.Cond.Base.Cmpid).
		WithField("buf_len", len(buf)).
		Debug("search: amp shrink starting")

	for len(buf) > 0 {
		buf = buf[:len(buf)-1]
		a.handler.Execute(buf)
	}

	a.handler.Cond.MarkAsDone()
}
