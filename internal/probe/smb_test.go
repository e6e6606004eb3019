package probe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnum4JSONUnmarshalsSharesAndPrinters(t *testing.T) {
	raw := []byte(`{
		"info": {"OS name": "Windows Server 2019", "Platform": "x86_64"},
		"domain": {"domain": "CORP", "netbios_name": "FILESERVER"},
		"shares": {"data": {"type": "Disk", "comment": "shared drive"}},
		"printers": {"hplj": {"uri": "ipp://192.0.2.5", "description": "office printer"}}
	}`)

	var out enum4JSON
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotNil(t, out.Info)
	require.Equal(t, "Windows Server 2019", out.Info.OSName)
	require.NotNil(t, out.Domain)
	require.Equal(t, "CORP", out.Domain.Domain)
	require.Len(t, out.Shares, 1)
	require.Len(t, out.Printers, 1)
}

func TestEnumerateSMBAbsentToolReturnsNil(t *testing.T) {
	result, err := EnumerateSMB("192.0.2.9", nil)
	require.NoError(t, err)
	require.Nil(t, result)
}
