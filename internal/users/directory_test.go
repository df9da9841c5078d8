package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticDirectory(t *testing.T) {
	d := StaticDirectory{
		"alice": {DisplayName: "Alice", AvatarURL: "https://cdn/a.png"},
		"bob":   {},
	}
	ctx := context.Background()

	assert.Equal(t, Profile{ID: "alice", DisplayName: "Alice", AvatarURL: "https://cdn/a.png"}, d.Profile(ctx, "alice"))
	assert.Equal(t, "bob", d.Profile(ctx, "bob").DisplayName)
	assert.Equal(t, Profile{ID: "zoe", DisplayName: "zoe"}, d.Profile(ctx, "zoe"))
}
