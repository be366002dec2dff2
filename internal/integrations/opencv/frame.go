package opencv

import (
	"bytes"
	"errors"
	"fmt"

	gocv "gocv.io/x/gocv"
)

// DecodeError signalisiert, dass die Eingabe kein lesbares Bild ist
type DecodeError struct {
	Size  int
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid image data (%d bytes): %v", e.Size, e.Cause)
	}
	return fmt.Sprintf("invalid image data (%d bytes)", e.Size)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

// IsDecodeError prüft, ob err (auch verpackt) ein DecodeError ist
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Decode dekodiert JPEG-Bytes in ein 3-kanaliges BGR-Bild.
// Der Aufrufer muss das Ergebnis mit Close freigeben.
func Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), &DecodeError{Size: 0, Cause: errors.New("empty buffer")}
	}
	if err := checkComplete(data); err != nil {
		return gocv.NewMat(), &DecodeError{Size: len(data), Cause: err}
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		img.Close()
		return gocv.NewMat(), &DecodeError{Size: len(data), Cause: err}
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), &DecodeError{Size: len(data)}
	}
	return img, nil
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// checkComplete verlangt bei JPEG-Daten den EOI-Marker am Ende (Nullbytes dahinter sind erlaubt).
// IMDecode füllt fehlende Zeilen eines abgeschnittenen Scans sonst ohne Fehler auf.
func checkComplete(data []byte) error {
	if !bytes.HasPrefix(data, jpegSOI) {
		return nil // andere Formate prüft IMDecode
	}
	if !bytes.HasSuffix(bytes.TrimRight(data, "\x00"), jpegEOI) {
		return errors.New("truncated JPEG: end of image marker missing")
	}
	return nil
}

// Resolution formatiert die Bildgröße als "BxH"
func Resolution(img gocv.Mat) string {
	return fmt.Sprintf("%dx%d", img.Cols(), img.Rows())
}
