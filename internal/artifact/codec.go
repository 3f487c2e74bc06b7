package artifact

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/danielpatrickdp/delay-risk/internal/feature"
	"google.golang.org/protobuf/encoding/protowire"
)

// On-disk layout: magic | protobuf-wire payload | sha256(payload).

// #region format
const (
	magic = "DRSK"

	// FormatVersion is bumped whenever the payload fields change meaning.
	FormatVersion = 1
)

const (
	fieldFormat    protowire.Number = 1
	fieldVersion   protowire.Number = 2
	fieldCreatedAt protowire.Number = 3
	fieldSource    protowire.Number = 4
	fieldColumn    protowire.Number = 5
	fieldNumeric   protowire.Number = 6
	fieldWeights   protowire.Number = 7
	fieldBias      protowire.Number = 8
	fieldThreshold protowire.Number = 9

	fieldColumnName     protowire.Number = 1
	fieldColumnCategory protowire.Number = 2
)

// #endregion format

// #region marshal
// Marshal encodes a validated artifact into its binary form.
func Marshal(a *Artifact) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}

	var p []byte
	p = protowire.AppendTag(p, fieldFormat, protowire.VarintType)
	p = protowire.AppendVarint(p, FormatVersion)
	p = appendString(p, fieldVersion, a.Version)
	p = protowire.AppendTag(p, fieldCreatedAt, protowire.VarintType)
	p = protowire.AppendVarint(p, protowire.EncodeZigZag(a.CreatedAt.UnixNano()))
	p = appendString(p, fieldSource, a.Source)

	for _, col := range a.Schema.Categorical {
		var m []byte
		m = appendString(m, fieldColumnName, col.Name)
		for _, cat := range col.Categories {
			m = appendString(m, fieldColumnCategory, cat)
		}
		p = protowire.AppendTag(p, fieldColumn, protowire.BytesType)
		p = protowire.AppendBytes(p, m)
	}
	for _, name := range a.Schema.Numeric {
		p = appendString(p, fieldNumeric, name)
	}

	w := make([]byte, 0, 8*len(a.Model.Weights))
	for _, x := range a.Model.Weights {
		w = protowire.AppendFixed64(w, math.Float64bits(x))
	}
	p = protowire.AppendTag(p, fieldWeights, protowire.BytesType)
	p = protowire.AppendBytes(p, w)
	p = protowire.AppendTag(p, fieldBias, protowire.Fixed64Type)
	p = protowire.AppendFixed64(p, math.Float64bits(a.Model.Bias))
	p = protowire.AppendTag(p, fieldThreshold, protowire.Fixed64Type)
	p = protowire.AppendFixed64(p, math.Float64bits(a.Model.Threshold))

	sum := sha256.Sum256(p)
	out := make([]byte, 0, len(magic)+len(p)+len(sum))
	out = append(out, magic...)
	out = append(out, p...)
	out = append(out, sum[:]...)
	return out, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// #endregion marshal

// #region unmarshal
// Unmarshal decodes and validates an artifact produced by Marshal.
func Unmarshal(b []byte) (*Artifact, error) {
	if len(b) < len(magic)+sha256.Size || string(b[:len(magic)]) != magic {
		return nil, ErrBadMagic
	}
	payload := b[len(magic) : len(b)-sha256.Size]
	sum := sha256.Sum256(payload)
	if !bytes.Equal(sum[:], b[len(b)-sha256.Size:]) {
		return nil, ErrChecksum
	}

	a := &Artifact{}
	var format uint64
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil, fmt.Errorf("read tag: %w", protowire.ParseError(n))
		}
		payload = payload[n:]

		switch {
		case num == fieldFormat && typ == protowire.VarintType:
			format, n = protowire.ConsumeVarint(payload)
		case num == fieldVersion && typ == protowire.BytesType:
			a.Version, n = protowire.ConsumeString(payload)
		case num == fieldCreatedAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(payload)
			a.CreatedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
		case num == fieldSource && typ == protowire.BytesType:
			a.Source, n = protowire.ConsumeString(payload)
		case num == fieldColumn && typ == protowire.BytesType:
			var m []byte
			m, n = protowire.ConsumeBytes(payload)
			if n >= 0 {
				col, err := unmarshalColumn(m)
				if err != nil {
					return nil, err
				}
				a.Schema.Categorical = append(a.Schema.Categorical, col)
			}
		case num == fieldNumeric && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(payload)
			a.Schema.Numeric = append(a.Schema.Numeric, s)
		case num == fieldWeights && typ == protowire.BytesType:
			var w []byte
			w, n = protowire.ConsumeBytes(payload)
			if n >= 0 {
				weights, err := unmarshalWeights(w)
				if err != nil {
					return nil, err
				}
				a.Model.Weights = weights
			}
		case num == fieldBias && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(payload)
			a.Model.Bias = math.Float64frombits(v)
		case num == fieldThreshold && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(payload)
			a.Model.Threshold = math.Float64frombits(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
		}
		if n < 0 {
			return nil, fmt.Errorf("read field %d: %w", num, protowire.ParseError(n))
		}
		payload = payload[n:]
	}

	if format != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, format)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func unmarshalColumn(b []byte) (feature.Column, error) {
	var col feature.Column
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return col, fmt.Errorf("read column tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldColumnName && typ == protowire.BytesType:
			col.Name, n = protowire.ConsumeString(b)
		case num == fieldColumnCategory && typ == protowire.BytesType:
			var s string
			s, n = protowire.ConsumeString(b)
			col.Categories = append(col.Categories, s)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return col, fmt.Errorf("read column field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return col, nil
}

func unmarshalWeights(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("weights block length %d not a multiple of 8", len(b))
	}
	weights := make([]float64, 0, len(b)/8)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, fmt.Errorf("read weight: %w", protowire.ParseError(n))
		}
		weights = append(weights, math.Float64frombits(v))
		b = b[n:]
	}
	return weights, nil
}

// #endregion unmarshal

// #region file-io
// Save writes the artifact to path atomically.
func Save(a *Artifact, path string) error {
	data, err := Marshal(a)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// Load reads an artifact file. All failures are *LoadError.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	a, err := Unmarshal(data)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	return a, nil
}

// #endregion file-io
