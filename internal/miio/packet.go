package miio

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// Wire format constants for the miio binary protocol.
const (
	packetMagic = 0x2131
	headerSize  = 32
)

// packet is a decoded miio datagram. Payload holds plaintext JSON; it is
// empty for hello replies.
type packet struct {
	deviceID uint32
	stamp    uint32
	payload  []byte
}

// deriveKeyIV computes the AES key and IV from the device token.
// key = MD5(token), iv = MD5(key || token).
func deriveKeyIV(token []byte) (key, iv []byte) {
	keySum := md5.Sum(token)
	key = keySum[:]

	ivSum := md5.Sum(append(append([]byte{}, key...), token...))
	iv = ivSum[:]
	return key, iv
}

// encrypt applies AES-128-CBC with PKCS#7 padding.
func encrypt(token, plaintext []byte) ([]byte, error) {
	key, iv := deriveKeyIV(token)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("miio: creating cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// decrypt reverses encrypt.
func decrypt(token, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrMalformedReply, len(ciphertext))
	}

	key, iv := deriveKeyIV(token)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("miio: creating cipher: %w", err)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrMalformedReply)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("%w: invalid padding %d", ErrMalformedReply, padding)
	}
	return data[:len(data)-padding], nil
}

// helloPacket builds the 32-byte discovery handshake: magic, length 0x20,
// and every remaining byte 0xFF.
func helloPacket() []byte {
	pkt := make([]byte, headerSize)
	binary.BigEndian.PutUint16(pkt[0:2], packetMagic)
	binary.BigEndian.PutUint16(pkt[2:4], headerSize)
	for i := 4; i < headerSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// encodePacket builds a full datagram: 16-byte header, 16-byte MD5
// checksum, encrypted payload. checksum = MD5(header || token || payload).
func encodePacket(deviceID, stamp uint32, token, plaintext []byte) ([]byte, error) {
	encrypted, err := encrypt(token, plaintext)
	if err != nil {
		return nil, err
	}

	total := headerSize + len(encrypted)
	pkt := make([]byte, total)
	binary.BigEndian.PutUint16(pkt[0:2], packetMagic)
	binary.BigEndian.PutUint16(pkt[2:4], uint16(total))
	binary.BigEndian.PutUint32(pkt[4:8], 0)
	binary.BigEndian.PutUint32(pkt[8:12], deviceID)
	binary.BigEndian.PutUint32(pkt[12:16], stamp)
	copy(pkt[headerSize:], encrypted)

	sum := md5.New()
	sum.Write(pkt[0:16])
	sum.Write(token)
	sum.Write(encrypted)
	copy(pkt[16:32], sum.Sum(nil))

	return pkt, nil
}

// decodePacket parses and decrypts a datagram from the device. Hello
// replies (no payload) skip checksum verification: the device fills the
// checksum field with its token during provisioning.
func decodePacket(data, token []byte) (*packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short packet (%d bytes)", ErrMalformedReply, len(data))
	}
	if binary.BigEndian.Uint16(data[0:2]) != packetMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedReply)
	}

	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < headerSize || length > len(data) {
		return nil, fmt.Errorf("%w: bad length (header says %d, got %d)", ErrMalformedReply, length, len(data))
	}

	pkt := &packet{
		deviceID: binary.BigEndian.Uint32(data[8:12]),
		stamp:    binary.BigEndian.Uint32(data[12:16]),
	}

	encrypted := data[headerSize:length]
	if len(encrypted) == 0 {
		return pkt, nil
	}

	sum := md5.New()
	sum.Write(data[0:16])
	sum.Write(token)
	sum.Write(encrypted)
	if !bytes.Equal(sum.Sum(nil), data[16:32]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformedReply)
	}

	plaintext, err := decrypt(token, encrypted)
	if err != nil {
		return nil, err
	}
	pkt.payload = plaintext
	return pkt, nil
}
