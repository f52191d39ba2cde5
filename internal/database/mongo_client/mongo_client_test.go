package mongo_client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestEnsureIndexes(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	defer mt.Close()

	mt.Run("unique userName on the users collection", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, EnsureIndexes(context.Background(), mt.DB))

		ev := mt.GetStartedEvent()
		require.NotNil(mt, ev)
		assert.Equal(mt, "createIndexes", ev.CommandName)
		assert.Equal(mt, UsersCollection, ev.Command.Lookup("createIndexes").StringValue())
		assert.Equal(mt, "uniq_userName", ev.Command.Lookup("indexes", "0", "name").StringValue())
		assert.True(mt, ev.Command.Lookup("indexes", "0", "unique").Boolean())
		assert.EqualValues(mt, 1, ev.Command.Lookup("indexes", "0", "key", "userName").AsInt64())
	})

	mt.Run("server error is wrapped", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    85,
			Message: "index options conflict",
			Name:    "IndexOptionsConflict",
		}))

		err := EnsureIndexes(context.Background(), mt.DB)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "create user index")
	})
}
