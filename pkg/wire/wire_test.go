package wire

import (
	"bytes"
	"context"
	stderrors "errors"
	"math/rand"
	"testing"

	"vrnode/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	encoded := Encode([]byte{0x01, 0x02, 0x03, 0x04, 0x05})

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x05, 0x01, 0x02, 0x03, 0x04, 0x05}, encoded)
}

func TestDecodeAcrossSegments(t *testing.T) {
	d := NewDecoder()

	frames, err := d.Feed([]byte{0x00, 0x00, 0x00, 0x05, 0x01, 0x02})
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, 2, d.Pending())

	frames, err = d.Feed([]byte{0x03, 0x04, 0x05})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, frames[0])
	assert.Zero(t, d.Pending())
}

func TestRoundTripArbitrarySplits(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	var (
		stream   []byte
		payloads [][]byte
	)

	for _, size := range []int{1, 2, 3, 4, 5, 60, 1500, 9000, 65535} {
		p := make([]byte, size)
		rng.Read(p)
		payloads = append(payloads, p)
		stream = append(stream, Encode(p)...)
	}

	d := NewDecoder()

	var got [][]byte

	for len(stream) > 0 {
		n := rng.Intn(3000) + 1
		if n > len(stream) {
			n = len(stream)
		}

		frames, err := d.Feed(stream[:n])
		require.NoError(t, err)

		got = append(got, frames...)
		stream = stream[n:]
	}

	require.Len(t, got, len(payloads))

	for i := range payloads {
		assert.True(t, bytes.Equal(payloads[i], got[i]), "payload %d", i)
	}
}

func TestDecodeOneByteAtATime(t *testing.T) {
	d := NewDecoder()
	stream := append(Encode([]byte("ab")), Encode([]byte("cde"))...)

	var got [][]byte

	for _, b := range stream {
		frames, err := d.Feed([]byte{b})
		require.NoError(t, err)

		got = append(got, frames...)
	}

	assert.Equal(t, [][]byte{[]byte("ab"), []byte("cde")}, got)
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	d := NewDecoder()

	_, err := d.Feed([]byte{0x00, 0x01, 0x00, 0x00})
	assert.ErrorIs(t, err, errors.ErrFrameTooLarge)
	assert.Zero(t, d.Pending())

	frames, err := d.Feed(Encode([]byte("ok")))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("ok")}, frames)
}

func TestDecoderReset(t *testing.T) {
	d := NewDecoder()

	_, err := d.Feed([]byte{0x00, 0x00, 0x00, 0x09, 0xff})
	require.NoError(t, err)

	d.Reset()

	frames, err := d.Feed(Encode([]byte{0x42}))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x42}}, frames)
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("r1/3")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "r1", NIC: 3}, ep)
	assert.Equal(t, 10003, ep.Port())
	assert.Equal(t, "r1/3", ep.String())

	for _, bad := range []string{"r1", "/3", "r1/x", "r1/0"} {
		_, err := ParseEndpoint(bad)
		assert.ErrorIs(t, err, errors.ErrUserInput, bad)
	}
}

type fakeResolver map[string][]string

func (f fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}

	return nil, stderrors.New("no such host")
}

func TestResolve(t *testing.T) {
	r := fakeResolver{"r1": {"172.20.0.5"}}

	addr, err := Endpoint{Host: "r1", NIC: 1}.Resolve(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "172.20.0.5:10001", addr)

	_, err = Endpoint{Host: "r9", NIC: 1}.Resolve(context.Background(), r)
	assert.ErrorIs(t, err, errors.ErrNoPeer)
}
