package memorystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

func TestFindUsers(t *testing.T) {
	name := "Ada"
	d := NewUserDirectory(
		User{Email: "ada@x.com", Name: &name, Verified: true, Profile: map[string]string{"gender": "f", "occupation": "eng"}},
		User{Email: "bola@x.com", Verified: true, Profile: map[string]string{"gender": "m", "occupation": " "}},
		User{Email: "gone@x.com", Verified: true, Deleted: true},
		User{Email: "unverified@x.com"},
	)
	required := []string{"gender", "occupation"}

	all, err := d.FindUsers(context.Background(), model.AudienceCriterion{Audience: model.AudienceAllUsers})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Ada", *all[0].Name)

	incomplete, err := d.FindUsers(context.Background(), model.AudienceCriterion{
		Audience: model.AudienceIncompleteProfiles, RequiredFields: required,
	})
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "bola@x.com", incomplete[0].Email)

	_, err = d.FindUsers(context.Background(), model.AudienceCriterion{Audience: model.AudienceCustomList})
	assert.Error(t, err)
}
