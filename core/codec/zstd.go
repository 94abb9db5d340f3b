package codec

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdPool manages reusable zstd decoders for whole-buffer decoding.
type ZstdPool struct {
	pool      sync.Pool
	maxMemory uint64
}

// NewZstdPool creates a pool of zstd decoders.
// If maxMemory is 0, no memory limit is applied to decoders.
func NewZstdPool(maxMemory uint64) *ZstdPool {
	p := &ZstdPool{maxMemory: maxMemory}
	p.pool.New = func() any {
		dec, err := p.newDecoder()
		if err != nil {
			return nil
		}
		return dec
	}
	return p
}

// DecodeAll decompresses src into a new buffer of capacity sizeHint.
func (p *ZstdPool) DecodeAll(src []byte, sizeHint int) ([]byte, error) {
	dec, release, err := p.get()
	if err != nil {
		return nil, err
	}
	defer release()
	return dec.DecodeAll(src, make([]byte, 0, max(sizeHint, 0)))
}

// get returns a pooled decoder and the function that gives it back.
func (p *ZstdPool) get() (*zstd.Decoder, func(), error) {
	if dec, ok := p.pool.Get().(*zstd.Decoder); ok && dec != nil {
		return dec, func() { p.pool.Put(dec) }, nil
	}
	// pool's New failed; try once more without pooling
	dec, err := p.newDecoder()
	if err != nil {
		return nil, nil, err
	}
	return dec, dec.Close, nil
}

func (p *ZstdPool) newDecoder() (*zstd.Decoder, error) {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(false),
	}
	if p.maxMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxMemory))
	}
	return zstd.NewReader(nil, opts...)
}
