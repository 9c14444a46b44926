package transaction

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/speps/go-hashids/v2"
)

const referenceMinLength = 16

// ReferenceGenerator issues transaction references of the form
// PREFIX + hashid(timestamp, random). References are shown to providers as
// idempotency keys, so they must be unique and hard to guess.
type ReferenceGenerator struct {
	prefix string
	hash   *hashids.HashID
	now    func() time.Time
}

// NewReferenceGenerator builds a generator. The salt keeps references from
// different deployments apart.
func NewReferenceGenerator(prefix, salt string) (*ReferenceGenerator, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = referenceMinLength
	hd.Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("reference generator: %w", err)
	}
	return &ReferenceGenerator{prefix: strings.ToUpper(prefix), hash: h, now: time.Now}, nil
}

// New returns a fresh reference.
func (g *ReferenceGenerator) New() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<40))
	if err != nil {
		return "", err
	}
	encoded, err := g.hash.EncodeInt64([]int64{g.now().UnixMilli(), n.Int64()})
	if err != nil {
		return "", err
	}
	return g.prefix + encoded, nil
}
