package memstore_test

import (
	"testing"

	"github.com/carebridge/carebridge/internal/domain/triage"
	"github.com/carebridge/carebridge/internal/domain/triage/memstore"
	"github.com/carebridge/carebridge/internal/domain/triage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) triage.Store { return memstore.New() })
}
