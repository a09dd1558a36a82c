package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildFilterRestrictsToViewer(t *testing.T) {
	filter := BuildFilter(Query{ViewerID: "alice"})
	require.Equal(t, `(sender_id = "alice" OR receiver_id = "alice")`, filter)
}

func TestBuildFilterCombinesScopes(t *testing.T) {
	from := time.Unix(1700000000, 0)
	filter := BuildFilter(Query{
		ViewerID:       "alice",
		ViewerGroupIDs: []string{"g1", "g2"},
		Type:           "image",
		GroupID:        "g1",
		From:           &from,
	})

	require.Contains(t, filter, `group_id IN ["g1", "g2"]`)
	require.Contains(t, filter, `type = "image"`)
	require.Contains(t, filter, `group_id = "g1"`)
	require.Contains(t, filter, "created_at >= 1700000000")
}

func TestBuildFilterPeerScope(t *testing.T) {
	filter := BuildFilter(Query{ViewerID: "alice", PeerID: "bob"})
	require.Contains(t, filter, `((sender_id = "alice" AND receiver_id = "bob") OR (sender_id = "bob" AND receiver_id = "alice"))`)
}
