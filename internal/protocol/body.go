package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// StringTerminator завершает строки в теле кадра
const StringTerminator byte = 0x02

// ErrBodyTruncated тело закончилось раньше ожидаемого поля
var ErrBodyTruncated = errors.New("protocol: truncated body")

// Writer собирает тело исходящего кадра
type Writer struct {
	op  OpCode
	buf bytes.Buffer
}

// NewWriter создаёт Writer для кода операции op
func NewWriter(op OpCode) *Writer {
	return &Writer{op: op}
}

// B64 добавляет целое фиксированной ширины
func (w *Writer) B64(value, length int) *Writer {
	w.buf.Write(EncodeB64(value, length))
	return w
}

// VL64 добавляет целое переменной длины
func (w *Writer) VL64(value int) *Writer {
	w.buf.Write(EncodeVL64(value))
	return w
}

// String добавляет строку с терминатором
func (w *Writer) String(s string) *Writer {
	w.buf.WriteString(s)
	w.buf.WriteByte(StringTerminator)
	return w
}

// Raw добавляет строку как есть
func (w *Writer) Raw(s string) *Writer {
	w.buf.WriteString(s)
	return w
}

// OpCode возвращает код операции кадра
func (w *Writer) OpCode() OpCode {
	return w.op
}

// Body возвращает собранное тело
func (w *Writer) Body() []byte {
	return w.buf.Bytes()
}

// Frame кодирует заголовок и тело
func (w *Writer) Frame() ([]byte, error) {
	return EncodeFrame(w.op, w.buf.Bytes())
}

// Reader последовательно читает поля тела входящего кадра
type Reader struct {
	data []byte
	pos  int
}

// NewReader создаёт Reader над телом кадра
func NewReader(body []byte) *Reader {
	return &Reader{data: body}
}

// B64 читает целое фиксированной ширины
func (r *Reader) B64(length int) (int, error) {
	if r.Remaining() < length {
		return 0, fmt.Errorf("%w: need %d bytes for b64, have %d", ErrBodyTruncated, length, r.Remaining())
	}
	value := DecodeB64(r.data[r.pos : r.pos+length])
	r.pos += length
	return value, nil
}

// VL64 читает целое переменной длины
func (r *Reader) VL64() (int, error) {
	value, n, err := DecodeVL64(r.data[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return value, nil
}

// String читает строку до терминатора. Отсутствие терминатора в конце тела допускается.
func (r *Reader) String() (string, error) {
	if r.Remaining() == 0 {
		return "", fmt.Errorf("%w: need string", ErrBodyTruncated)
	}
	rest := r.data[r.pos:]
	if idx := bytes.IndexByte(rest, StringTerminator); idx >= 0 {
		r.pos += idx + 1
		return string(rest[:idx]), nil
	}
	r.pos = len(r.data)
	return string(rest), nil
}

// Remaining число непрочитанных байт
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}
