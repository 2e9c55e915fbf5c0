// Package protocol реализует бинарный протокол комнат: компактные целые числа и кадры
package protocol

import "errors"

// ErrVL64Truncated возвращается, если буфер короче, чем требует первый байт VL64
var ErrVL64Truncated = errors.New("protocol: truncated vl64 value")

// b64Base смещение каждого символа B64: символ = 64 + 6 бит значения
const b64Base = 64

// MaxB64 возвращает наибольшее значение, помещающееся в length символов B64
func MaxB64(length int) int {
	return 1<<(6*uint(length)) - 1
}

// EncodeB64 кодирует value в length символов фиксированной ширины (старшие биты первыми).
// Значение обрезается до 6*length младших бит.
func EncodeB64(value, length int) []byte {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		shift := uint(6 * (length - 1 - i))
		out[i] = byte(b64Base + (value>>shift)&0x3f)
	}
	return out
}

// DecodeB64 декодирует символы B64. Байты ниже 64 дают отрицательные разряды,
// поэтому результат может быть отрицательным для мусорных данных.
func DecodeB64(data []byte) int {
	value := 0
	for i, c := range data {
		shift := uint(6 * (len(data) - 1 - i))
		value += (int(c) - b64Base) << shift
	}
	return value
}

// EncodeVL64 кодирует целое число переменной длины (1-6 байт, старшие биты сверх 32 отбрасываются).
// Первый байт: 2 младших бита значения, бит знака (4) и число байт в битах 3-5.
func EncodeVL64(value int) []byte {
	var buf [6]byte
	negative := value < 0
	if negative {
		value = -value
	}

	buf[0] = byte(b64Base + value&3)
	value >>= 2
	n := 1
	for value != 0 && n < len(buf) {
		buf[n] = byte(b64Base + value&0x3f)
		value >>= 6
		n++
	}

	buf[0] |= byte(n << 3)
	if negative {
		buf[0] |= 4
	}
	return append([]byte(nil), buf[:n]...)
}

// DecodeVL64 декодирует VL64 из начала data и возвращает значение и число прочитанных байт
func DecodeVL64(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrVL64Truncated
	}

	total := int(data[0]>>3) & 7
	if total == 0 || total > len(data) {
		return 0, 0, ErrVL64Truncated
	}

	value := int(data[0] & 3)
	shift := uint(2)
	for i := 1; i < total; i++ {
		value |= int(data[i]&0x3f) << shift
		shift += 6
	}

	if data[0]&4 == 4 {
		value = -value
	}
	return value, total, nil
}
