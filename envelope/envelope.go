// Package envelope implements the self-describing binary wire format
// shared by every message CLUTCH and CHAIN exchange over a relay:
// a small fixed header followed by labeled sections of tagged,
// typed fields. Fields are parsed by tag rather than position because
// CHAIN plaintexts deliberately shuffle field order per message.
package envelope

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
)

// Magic identifies a meshveil envelope. "MV" in ASCII.
var Magic = [2]byte{'M', 'V'}

// Version is the current wire format version.
const Version = 1

// BackcompatVersion is the oldest version a reader of this
// implementation still understands.
const BackcompatVersion = 1

var (
	ErrFormatError     = errors.New("envelope: malformed envelope")
	ErrSignatureInvalid = errors.New("envelope: signature verification failed")
	ErrUnknownTag      = errors.New("envelope: unknown field tag")
	ErrTruncated       = errors.New("envelope: truncated data")
)

// Tag identifies a field within a section. By convention lowercase
// ASCII tags are reserved for the wire format itself and uppercase
// tags are free for application use, but Unmarshal does not enforce
// this: fields are parsed by tag regardless of case.
type Tag byte

// Field is one tagged value inside a Section.
type Field struct {
	Tag   Tag
	Value []byte
}

// Section is a named, ordered (but semantically order-independent)
// collection of Fields.
type Section struct {
	Label  string
	Fields []Field
}

// Envelope is the top-level self-describing wire message.
type Envelope struct {
	Version           byte
	BackcompatVersion byte
	Timestamp         NetTime
	ProvenanceHash    [32]byte
	Signature         []byte // 64 bytes, optional
	SignerPublic      []byte // 32 bytes, optional
	Sections          []Section
}

const terminator = 0x00

// Marshal encodes env into its binary wire representation.
func Marshal(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(env.Version)
	buf.WriteByte(env.BackcompatVersion)

	var header bytes.Buffer
	writeUint64(&header, uint64(env.Timestamp))
	header.Write(env.ProvenanceHash[:])

	hasSig := byte(0)
	if len(env.Signature) == 64 && len(env.SignerPublic) == 32 {
		hasSig = 1
	}
	header.WriteByte(hasSig)
	if hasSig == 1 {
		header.Write(env.Signature)
		header.Write(env.SignerPublic)
	}

	headerBytes := header.Bytes()
	if len(headerBytes) > 0xFFFF {
		return nil, ErrFormatError
	}
	writeUint16(&buf, uint16(len(headerBytes)))
	buf.Write(headerBytes)

	if len(env.Sections) > 0xFFFF {
		return nil, ErrFormatError
	}
	writeUint16(&buf, uint16(len(env.Sections)))
	for _, sec := range env.Sections {
		if err := marshalSection(&buf, sec); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(terminator)
	return buf.Bytes(), nil
}

func marshalSection(buf *bytes.Buffer, sec Section) error {
	labelBytes := []byte(sec.Label)
	if len(labelBytes) > 0xFF {
		return ErrFormatError
	}
	buf.WriteByte(byte(len(labelBytes)))
	buf.Write(labelBytes)

	if len(sec.Fields) > 0xFFFF {
		return ErrFormatError
	}
	writeUint16(buf, uint16(len(sec.Fields)))
	for _, f := range sec.Fields {
		buf.WriteByte(byte(f.Tag))
		if len(f.Value) > 0xFFFFFF {
			return ErrFormatError
		}
		writeUint24(buf, uint32(len(f.Value)))
		buf.Write(f.Value)
	}
	return nil
}

// Unmarshal decodes a binary envelope, validating the magic prefix,
// version compatibility and terminator, and parsing every section by
// tag.
func Unmarshal(data []byte) (*Envelope, error) {
	if len(data) < 4 || data[0] != Magic[0] || data[1] != Magic[1] {
		return nil, ErrFormatError
	}
	env := &Envelope{Version: data[2], BackcompatVersion: data[3]}
	if env.Version < BackcompatVersion {
		return nil, ErrFormatError
	}
	off := 4

	headerLen, off2, err := readUint16(data, off)
	if err != nil {
		return nil, err
	}
	off = off2
	if off+int(headerLen) > len(data) {
		return nil, ErrTruncated
	}
	header := data[off : off+int(headerLen)]
	off += int(headerLen)

	hoff := 0
	if len(header) < 8+32+1 {
		return nil, ErrTruncated
	}
	ts, hoff2, err := readUint64(header, hoff)
	if err != nil {
		return nil, err
	}
	hoff = hoff2
	env.Timestamp = NetTime(ts)
	copy(env.ProvenanceHash[:], header[hoff:hoff+32])
	hoff += 32
	hasSig := header[hoff]
	hoff++
	if hasSig == 1 {
		if len(header) < hoff+64+32 {
			return nil, ErrTruncated
		}
		env.Signature = append([]byte{}, header[hoff:hoff+64]...)
		hoff += 64
		env.SignerPublic = append([]byte{}, header[hoff:hoff+32]...)
		hoff += 32
	}

	sectionCount, off3, err := readUint16(data, off)
	if err != nil {
		return nil, err
	}
	off = off3
	env.Sections = make([]Section, 0, sectionCount)
	for i := 0; i < int(sectionCount); i++ {
		sec, next, err := unmarshalSection(data, off)
		if err != nil {
			return nil, err
		}
		env.Sections = append(env.Sections, sec)
		off = next
	}
	if off >= len(data) || data[off] != terminator {
		return nil, ErrFormatError
	}
	return env, nil
}

func unmarshalSection(data []byte, off int) (Section, int, error) {
	if off >= len(data) {
		return Section{}, off, ErrTruncated
	}
	labelLen := int(data[off])
	off++
	if off+labelLen > len(data) {
		return Section{}, off, ErrTruncated
	}
	label := string(data[off : off+labelLen])
	off += labelLen

	fieldCount, off2, err := readUint16(data, off)
	if err != nil {
		return Section{}, off, err
	}
	off = off2

	fields := make([]Field, 0, fieldCount)
	for i := 0; i < int(fieldCount); i++ {
		if off >= len(data) {
			return Section{}, off, ErrTruncated
		}
		tag := Tag(data[off])
		off++
		length, off3, err := readUint24(data, off)
		if err != nil {
			return Section{}, off, err
		}
		off = off3
		if off+int(length) > len(data) {
			return Section{}, off, ErrTruncated
		}
		value := append([]byte{}, data[off:off+int(length)]...)
		off += int(length)
		fields = append(fields, Field{Tag: tag, Value: value})
	}
	return Section{Label: label, Fields: fields}, off, nil
}

// Get returns the first field in the section with the given tag.
func (s Section) Get(t Tag) ([]byte, bool) {
	for _, f := range s.Fields {
		if f.Tag == t {
			return f.Value, true
		}
	}
	return nil, false
}

// SectionByLabel returns the first section in env with the given
// label.
func (env *Envelope) SectionByLabel(label string) (Section, bool) {
	for _, s := range env.Sections {
		if s.Label == label {
			return s, true
		}
	}
	return Section{}, false
}

// Sign computes the Ed25519 signature over the envelope's provenance
// hash and attaches it along with the signer's public key.
func (env *Envelope) Sign(priv ed25519.PrivateKey) {
	env.Signature = ed25519.Sign(priv, env.ProvenanceHash[:])
	env.SignerPublic = append([]byte{}, priv.Public().(ed25519.PublicKey)...)
}

// VerifySignature checks env's attached signature against its
// provenance hash.
func (env *Envelope) VerifySignature() error {
	if len(env.Signature) != 64 || len(env.SignerPublic) != 32 {
		return ErrSignatureInvalid
	}
	if !ed25519.Verify(env.SignerPublic, env.ProvenanceHash[:], env.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint24(buf *bytes.Buffer, v uint32) {
	var b [3]byte
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint16(data []byte, off int) (uint16, int, error) {
	if off+2 > len(data) {
		return 0, off, ErrTruncated
	}
	return binary.BigEndian.Uint16(data[off : off+2]), off + 2, nil
}

func readUint24(data []byte, off int) (uint32, int, error) {
	if off+3 > len(data) {
		return 0, off, ErrTruncated
	}
	v := uint32(data[off])<<16 | uint32(data[off+1])<<8 | uint32(data[off+2])
	return v, off + 3, nil
}

func readUint64(data []byte, off int) (uint64, int, error) {
	if off+8 > len(data) {
		return 0, off, ErrTruncated
	}
	return binary.BigEndian.Uint64(data[off : off+8]), off + 8, nil
}
