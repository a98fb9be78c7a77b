package sign

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// testTSLFixture builds a minimal granted-status TSL document carrying
// a single certificate, matching internal/pki's expected XML shape.
func testTSLFixture(der []byte) []byte {
	b64 := base64.StdEncoding.EncodeToString(der)
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<TrustServiceStatusList xmlns="http://uri.etsi.org/02231/v2#">
  <TrustServiceProviderList>
    <TrustServiceProvider>
      <TSPServices>
        <TSPService>
          <ServiceInformation>
            <ServiceStatus>http://uri.etsi.org/TrstSvc/Svcstatus/granted</ServiceStatus>
            <ServiceDigitalIdentity>
              <DigitalId>
                <X509Certificate>%s</X509Certificate>
              </DigitalId>
            </ServiceDigitalIdentity>
          </ServiceInformation>
        </TSPService>
      </TSPServices>
    </TrustServiceProvider>
  </TrustServiceProviderList>
</TrustServiceStatusList>`, b64))
}
