package protocol

import (
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize размер заголовка кадра: 3 байта длины + 2 байта кода операции
	HeaderSize = 5

	lengthChars = 3
	opcodeChars = 2

	// opcodeOverhead единицы длины, которые занимает сам код операции
	opcodeOverhead = opcodeChars

	// MaxBodyLength наибольшее тело, которое можно описать трёхсимвольной длиной
	MaxBodyLength = (1<<(6*lengthChars) - 1) - opcodeOverhead
)

var (
	// ErrInvalidHeader заголовок короче HeaderSize байт
	ErrInvalidHeader = errors.New("protocol: invalid header")
	// ErrFrameTooLarge тело не помещается в трёхсимвольную длину или превышает лимит соединения
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrInvalidOpCode код операции вне диапазона двух символов B64
	ErrInvalidOpCode = errors.New("protocol: invalid opcode")
)

// Header заголовок кадра
type Header struct {
	BodyLength int    // Длина тела без накладных расходов заголовка
	OpCode     OpCode // Код операции
}

// Frame один кадр протокола
type Frame struct {
	Header
	Body []byte
}

// DecodeHeader разбирает первые HeaderSize байт буфера.
// Длина тела = закодированная длина - 2, но не меньше нуля.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: got %d bytes", ErrInvalidHeader, len(data))
	}

	length := DecodeB64(data[0:lengthChars]) - opcodeOverhead
	if length < 0 {
		length = 0
	}

	return Header{
		BodyLength: length,
		OpCode:     OpCode(DecodeB64(data[lengthChars:HeaderSize])),
	}, nil
}

// EncodeHeader формирует заголовок для тела длиной bodyLength
func EncodeHeader(bodyLength int, op OpCode) ([]byte, error) {
	if bodyLength < 0 {
		bodyLength = 0
	}
	if bodyLength > MaxBodyLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, bodyLength)
	}
	if op < 0 || int(op) > MaxB64(opcodeChars) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOpCode, op)
	}

	header := make([]byte, 0, HeaderSize)
	header = append(header, EncodeB64(bodyLength+opcodeOverhead, lengthChars)...)
	header = append(header, EncodeB64(int(op), opcodeChars)...)
	return header, nil
}

// EncodeFrame возвращает заголовок и тело одним буфером
func EncodeFrame(op OpCode, body []byte) ([]byte, error) {
	header, err := EncodeHeader(len(body), op)
	if err != nil {
		return nil, err
	}
	return append(header, body...), nil
}

// ReadFrame читает один кадр из потока. maxBody <= 0 отключает ограничение соединения.
// Неполный заголовок в конце потока возвращается как ErrInvalidHeader.
func ReadFrame(r io.Reader, maxBody int) (*Frame, error) {
	var headerBuf [HeaderSize]byte
	n, err := io.ReadFull(r, headerBuf[:])
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHeader, n)
		}
		return nil, err
	}

	header, err := DecodeHeader(headerBuf[:])
	if err != nil {
		return nil, err
	}
	if maxBody > 0 && header.BodyLength > maxBody {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, header.BodyLength, maxBody)
	}

	body := make([]byte, header.BodyLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body of %s: %w", header.OpCode, err)
	}

	return &Frame{Header: header, Body: body}, nil
}

// WriteFrame пишет заголовок и тело одной операцией записи
func WriteFrame(w io.Writer, op OpCode, body []byte) error {
	data, err := EncodeFrame(op, body)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
