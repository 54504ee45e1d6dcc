package nosip

import (
	"encoding/binary"
	"os"

	pkg_errors "nosip-bridge/pkg/errors"
)

// fileRecorder is the minimal on-disk sink backing a `recording`
// request. The on-wire frame format (sequence, timestamp, payload
// length, payload) is a placeholder: the spec treats the recording
// file format as an external collaborator, so this exists only to
// give startRecorders/stopRecorders something real to open and close.
type fileRecorder struct {
	f *os.File
}

func newFileRecorder(path string) (Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, pkg_errors.Wrap(err, "failed to open recorder file").WithField("path", path)
	}
	return &fileRecorder{f: f}, nil
}

func (r *fileRecorder) Write(payload []byte, seq uint16, ts uint32) error {
	var header [8]byte
	binary.BigEndian.PutUint16(header[0:2], seq)
	binary.BigEndian.PutUint32(header[2:6], ts)
	binary.BigEndian.PutUint16(header[6:8], uint16(len(payload)))
	if _, err := r.f.Write(header[:]); err != nil {
		return err
	}
	_, err := r.f.Write(payload)
	return err
}

func (r *fileRecorder) Close() error {
	return r.f.Close()
}
