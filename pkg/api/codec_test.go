package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	req := &TestPolicyRequest{DirectoryLabel: "fleet", SubjectRef: "e.00", ResourceRef: "s.11"}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	var got TestPolicyRequest
	require.NoError(t, c.Unmarshal(data, &got))
	assert.Equal(t, *req, got)
}
