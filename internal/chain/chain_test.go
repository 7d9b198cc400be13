package chain_test

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftedinit/medchain/internal/chain"
	"github.com/liftedinit/medchain/internal/models"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func record(patient, consentHash string) models.Record {
	return models.Record{
		PatientID:   patient,
		DoctorID:    "d001",
		Department:  models.DefaultDepartment,
		Timestamp:   models.Timestamp(t0),
		DataHash:    "aa",
		ConsentHash: consentHash,
		MedicalData: models.MedicalData{Diagnosis: "flu", Prescription: "rest"},
	}
}

// buildChain returns a valid chain of genesis plus n one-record blocks.
func buildChain(n int) []models.Block {
	blocks := []models.Block{chain.NewGenesis(t0)}
	for i := 1; i <= n; i++ {
		tip := blocks[len(blocks)-1]
		b := chain.NewCandidate(&tip, []models.Record{record(fmt.Sprintf("p%03d", i), fmt.Sprintf("c%d", i))}, t0.Add(time.Duration(i)*time.Second))
		b.Index = uint64(i)
		blocks = append(blocks, b)
	}
	return blocks
}

func TestGenesis(t *testing.T) {
	g := chain.NewGenesis(t0)
	assert.Equal(t, "0", g.PreviousHash)
	assert.Empty(t, g.Records)
	assert.NotNil(t, g.Records)
	assert.Equal(t, sha("[]"), g.DataHash)
	assert.Equal(t, sha(""), g.ConsentHash)
	assert.EqualValues(t, 0, g.Index)
}

func TestNewCandidate(t *testing.T) {
	t.Run("EmptyChain", func(t *testing.T) {
		c := chain.NewCandidate(nil, nil, t0)
		assert.Equal(t, "0", c.PreviousHash)
		assert.Equal(t, sha("[]"), c.DataHash)
	})

	t.Run("LinksToTip", func(t *testing.T) {
		g := chain.NewGenesis(t0)
		recs := []models.Record{record("p001", "x"), record("p002", "y")}
		c := chain.NewCandidate(&g, recs, t0)
		assert.Equal(t, chain.Hash(g), c.PreviousHash)
		assert.Equal(t, sha("xy"), c.ConsentHash)
		assert.Equal(t, chain.DataHash(recs), c.DataHash)
	})
}

func TestHashIgnoresNilRecords(t *testing.T) {
	g := chain.NewGenesis(t0)
	withNil := g
	withNil.Records = nil
	assert.Equal(t, chain.Hash(g), chain.Hash(withNil))
}

func TestValidate(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		require.NoError(t, chain.Validate(nil))
	})

	t.Run("Linkage", func(t *testing.T) {
		blocks := buildChain(5)
		require.NoError(t, chain.Validate(blocks))
		for i := 1; i < len(blocks); i++ {
			assert.Equal(t, chain.Hash(blocks[i-1]), blocks[i].PreviousHash)
		}
		ok, msg := chain.Summary(blocks)
		assert.True(t, ok)
		assert.Equal(t, "chain is valid", msg)
	})

	cases := []struct {
		name   string
		mutate func(b []models.Block)
		index  int
		reason string
	}{
		{"GenesisMarker", func(b []models.Block) { b[0].PreviousHash = "1" }, 0, "genesis block corrupted"},
		{"GenesisDataHash", func(b []models.Block) { b[0].DataHash = "bad" }, 0, "block 0 has invalid data hash"},
		{"PreviousHash", func(b []models.Block) { b[2].PreviousHash = "bad" }, 2, "block 2 has invalid previous hash"},
		{"TamperedRecord", func(b []models.Block) { b[1].Records[0].MedicalData.Diagnosis = "other" }, 1, "block 1 has invalid data hash"},
		{"ConsentHash", func(b []models.Block) { b[3].ConsentHash = "bad" }, 3, "block 3 has invalid consent hash"},
		{"TamperedEarlierBreaksLink", func(b []models.Block) { b[1].Timestamp = "later" }, 2, "block 2 has invalid previous hash"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blocks := buildChain(3)
			tc.mutate(blocks)
			err := chain.Validate(blocks)
			var ierr *chain.IntegrityError
			require.True(t, errors.As(err, &ierr))
			assert.Equal(t, tc.index, ierr.Index)
			assert.Equal(t, tc.reason, ierr.Error())

			ok, msg := chain.Summary(blocks)
			assert.False(t, ok)
			assert.Equal(t, tc.reason, msg)
		})
	}
}

func TestValidateAt(t *testing.T) {
	blocks := buildChain(4)
	blocks[3].ConsentHash = "bad"

	for i := 0; i < 3; i++ {
		require.NoError(t, chain.ValidateAt(blocks, i))
	}
	err := chain.ValidateAt(blocks, 3)
	require.EqualError(t, err, "block 3 has invalid consent hash")
	assert.EqualError(t, chain.ValidateAt(blocks, 4), "block 4 has invalid previous hash")
}

func TestValidateCandidate(t *testing.T) {
	good := chain.NewCandidate(nil, []models.Record{record("p001", "c")}, t0)
	assert.True(t, chain.ValidateCandidate(good))

	bad := chain.NewCandidate(nil, []models.Record{record("p001", "")}, t0)
	assert.False(t, chain.ValidateCandidate(bad))
}
