package admin_api

import (
	"context"
	"errors"
	"fmt"
	"mpsdn/common"
	"mpsdn/config"
	"mpsdn/controller"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Controller is the control surface served over HTTP.
type Controller interface {
	SetPortCapacity(dpid uint64, port uint32, capacity float64) error
	SetEdgePort(dpid uint64, port uint32) error
	SetHostNetwork(dpid uint64, cidr string) error
	TriggerComputation(ctx context.Context) (controller.PassReport, error)
	TriggerRecomputation(ctx context.Context) (controller.PassReport, error)
	SetGroupBuckets(ctx context.Context, dpid uint64, groupID uint32, weights map[uint32]uint16) error
	UpdateConfig(u config.Update) (config.Config, error)
	Config() config.Config
	Snapshot() controller.TopologyView
}

type handlers struct {
	ctrl Controller
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrComputationInProgress):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"result": "success"})
}

func parseDPID(c *gin.Context) (uint64, error) {
	dpid, err := strconv.ParseUint(c.Param("dp_id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: dp_id %q", common.ErrValidation, c.Param("dp_id"))
	}
	return dpid, nil
}

func parsePort(c *gin.Context) (uint32, error) {
	port, err := strconv.ParseUint(c.Param("port_no"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: port_no %q", common.ErrValidation, c.Param("port_no"))
	}
	return uint32(port), nil
}

func (h *handlers) setPortWeight(c *gin.Context) {
	dpid, err := parseDPID(c)
	if err != nil {
		fail(c, err)
		return
	}
	port, err := parsePort(c)
	if err != nil {
		fail(c, err)
		return
	}
	capacity, err := strconv.ParseFloat(c.Param("weight"), 64)
	if err != nil {
		fail(c, fmt.Errorf("%w: weight %q", common.ErrValidation, c.Param("weight")))
		return
	}
	if err := h.ctrl.SetPortCapacity(dpid, port, capacity); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (h *handlers) setEdgePort(c *gin.Context) {
	dpid, err := parseDPID(c)
	if err != nil {
		fail(c, err)
		return
	}
	port, err := parsePort(c)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.ctrl.SetEdgePort(dpid, port); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

func (h *handlers) setIPNetwork(c *gin.Context) {
	dpid, err := parseDPID(c)
	if err != nil {
		fail(c, err)
		return
	}
	cidr, err := ToCIDR(c.Param("ip"), c.Param("netmask"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.ctrl.SetHostNetwork(dpid, cidr); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

// ToCIDR joins an address with a netmask given either as prefix length or in
// dotted form.
func ToCIDR(ip, netmask string) (string, error) {
	if bits, err := strconv.Atoi(netmask); err == nil {
		if bits < 0 || bits > 32 {
			return "", fmt.Errorf("%w: netmask %q", common.ErrValidation, netmask)
		}
		return fmt.Sprintf("%s/%d", ip, bits), nil
	}
	mask := net.ParseIP(netmask).To4()
	if mask == nil {
		return "", fmt.Errorf("%w: netmask %q", common.ErrValidation, netmask)
	}
	ones, bits := net.IPMask(mask).Size()
	if bits == 0 {
		return "", fmt.Errorf("%w: netmask %q is not contiguous", common.ErrValidation, netmask)
	}
	return fmt.Sprintf("%s/%d", ip, ones), nil
}

func (h *handlers) startComputation(c *gin.Context) {
	report, err := h.ctrl.TriggerComputation(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) recompute(c *gin.Context) {
	report, err := h.ctrl.TriggerRecomputation(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) getConfiguration(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.Config())
}

func (h *handlers) updateConfiguration(c *gin.Context) {
	var u config.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		fail(c, fmt.Errorf("%w: %v", common.ErrValidation, err))
		return
	}
	next, err := h.ctrl.UpdateConfig(u)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, next)
}

func (h *handlers) changeBucketWeight(c *gin.Context) {
	dpid, err := parseDPID(c)
	if err != nil {
		fail(c, err)
		return
	}
	groupID, err := strconv.ParseUint(c.Param("group_id"), 10, 32)
	if err != nil {
		fail(c, fmt.Errorf("%w: group_id %q", common.ErrValidation, c.Param("group_id")))
		return
	}
	weights, err := ParseBuckets(c.Param("rules"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.ctrl.SetGroupBuckets(c.Request.Context(), dpid, uint32(groupID), weights); err != nil {
		fail(c, err)
		return
	}
	ok(c)
}

// ParseBuckets reads "port,weight;port,weight", e.g. "1,1;2,1;3,2".
func ParseBuckets(rules string) (map[uint32]uint16, error) {
	weights := make(map[uint32]uint16)
	for _, rule := range strings.Split(rules, ";") {
		if rule == "" {
			continue
		}
		fields := strings.Split(rule, ",")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: bucket %q is not port,weight", common.ErrValidation, rule)
		}
		port, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bucket port %q", common.ErrValidation, fields[0])
		}
		weight, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: bucket weight %q", common.ErrValidation, fields[1])
		}
		weights[uint32(port)] = uint16(weight)
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no buckets in %q", common.ErrValidation, rules)
	}
	return weights, nil
}

func (h *handlers) topology(c *gin.Context) {
	c.JSON(http.StatusOK, h.ctrl.Snapshot())
}
