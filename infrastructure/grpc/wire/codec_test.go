package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodec_Registered(t *testing.T) {
	require.NotNil(t, encoding.GetCodec(CodecName))
}

func TestCodec_FramesPassThrough(t *testing.T) {
	req := require.New(t)
	raw := []byte(`{"type":"ping"}`)

	data, err := Codec{}.Marshal(&Frame{Data: raw})
	req.NoError(err)
	req.Equal(raw, data)

	var f Frame
	req.NoError(Codec{}.Unmarshal(data, &f))
	req.JSONEq(string(raw), string(f.Data))
}
