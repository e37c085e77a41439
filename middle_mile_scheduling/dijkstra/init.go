package dijkstra

import (
	"mpsdn/middle_mile_scheduling/common"

	log "github.com/sirupsen/logrus"
)

// init registers the engine in the global algorithm registry
func init() {
	if err := common.RegisterGlobal(Name, func() common.PathFinder { return New() }); err != nil {
		log.Warnf("Failed to register %s path finder: %v", Name, err)
	}
}
