package status

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsFinal(t *testing.T) {
	require.True(t, IsFinal("Entregado"))
	require.True(t, IsFinal("ENTREGADO A DESTINATARIO"))
	require.True(t, IsFinal("Entregado parcial")) // substring match, by contract
	require.True(t, IsFinal("Devolución/Entrega"))
	require.True(t, IsFinal("devolucion/entrega en agencia"))
	require.True(t, IsFinal("Siniestro/Entrega"))

	require.False(t, IsFinal(""))
	require.False(t, IsFinal("En tránsito"))
	require.False(t, IsFinal("En bodega origen"))
	require.False(t, IsFinal(NotAvailable))
	require.False(t, IsFinal(Unknown))
}
