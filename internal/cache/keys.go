package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func ExportProgressKey(exportID string) string {
	return fmt.Sprintf("export:progress:%s", exportID)
}

func ExportCancelKey(exportID string) string {
	return fmt.Sprintf("export:cancel:%s", exportID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func NameCheckKey(tenantID uuid.UUID, normalized string) string {
	return fmt.Sprintf("vendor:name:%s:%s", tenantID, normalized)
}
