package lifecycle

import (
	"context"
	"errors"
	"net/netip"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/edurange/internal/o11y"
	"github.com/chainguard-dev/edurange/internal/scenario"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Steps reported by InstanceError.
const (
	StepDiscover  = "discover"
	StepImage     = "select image"
	StepCreate    = "create"
	StepTag       = "tag"
	StepResume    = "resume"
	StepWait      = "wait running"
	StepAddress   = "assign address"
	StepReload    = "reload"
	StepReadiness = "await readiness"
	StepUnassign  = "unassign address"
	StepTerminate = "terminate"
	StepClear     = "clear readiness"
)

// Controller drives a single instance through its lifecycle.
type Controller struct {
	mgr *Manager
	cfg *scenario.InstanceConfig
	id  Identity

	resource *Resource
	address  *Address
	state    State
}

// Identity returns the identity of the controlled instance.
func (c *Controller) Identity() Identity {
	return c.id
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// Resource returns the loaded provider resource, or nil.
func (c *Controller) Resource() *Resource {
	return c.resource
}

// PublicIPAddress returns the public address of the loaded resource.
func (c *Controller) PublicIPAddress() (netip.Addr, bool) {
	if c.resource != nil && c.resource.PublicAddress.IsValid() {
		return c.resource.PublicAddress, true
	}
	if c.address != nil && c.address.PublicIP.IsValid() {
		return c.address.PublicIP, true
	}
	return netip.Addr{}, false
}

func (c *Controller) setState(ctx context.Context, s State) {
	if s == c.state {
		return
	}
	clog.FromContext(ctx).Debug("instance state changed", "from", c.state, "to", s)
	c.state = s
}

func (c *Controller) fail(step string, err error) error {
	return &InstanceError{Identity: c.id, Step: step, Err: err}
}

func (c *Controller) span(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx = clog.WithValues(ctx, c.id.LogAttrs()...)
	return c.mgr.tracer.Start(ctx, name, trace.WithAttributes(c.id.SpanAttrs()...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// discover returns the non-terminated resource tagged with the instance
// identity, or nil when there is none.
func (c *Controller) discover(ctx context.Context) (*Resource, error) {
	resources, err := c.mgr.compute.ListResources(ctx, c.id.String())
	if err != nil {
		return nil, c.fail(StepDiscover, providerErr(err))
	}
	if len(resources) == 0 {
		return nil, nil
	}
	if len(resources) > 1 {
		clog.FromContext(ctx).Warn("multiple resources share an identity, using the first", "count", len(resources))
	}
	return resources[0], nil
}

// Started reports whether the instance exists and its guest has reported
// ready. It does not change provider state.
func (c *Controller) Started(ctx context.Context) (bool, error) {
	ctx = clog.WithValues(ctx, c.id.LogAttrs()...)

	res, err := c.discover(ctx)
	if err != nil {
		return false, err
	}
	if res == nil {
		return false, nil
	}

	ready, err := c.mgr.readiness.Exists(ctx, c.id)
	if err != nil {
		return false, c.fail(StepReadiness, providerErr(err))
	}
	return ready, nil
}

// Start brings the instance up in the provider subnet subnetID and returns
// once its guest has reported ready. An existing resource with the same
// identity is adopted instead of creating another.
func (c *Controller) Start(ctx context.Context, subnetID string) (err error) {
	ctx, span := c.span(ctx, "lifecycle.Start")
	defer func() { endSpan(span, err) }()
	log := clog.FromContext(ctx)

	res, err := c.discoverOrCreate(ctx, subnetID)
	if err != nil {
		return err
	}
	c.resource = res
	span.SetAttributes(attribute.String(o11y.AttrID, res.ID))

	c.setState(ctx, StateTagged)

	if res.State == ResourceStateStopped || res.State == ResourceStateStopping {
		log.Info("resuming stopped instance", o11y.AttrID, res.ID, "state", res.State)
		if err := c.mgr.compute.ResumeResource(ctx, res); err != nil {
			return c.fail(StepResume, providerErr(err))
		}
	}

	log.Info("waiting for instance to run", o11y.AttrID, res.ID)
	if err := c.mgr.compute.WaitUntilRunning(ctx, res); err != nil {
		return c.fail(StepWait, providerErr(err))
	}
	c.setState(ctx, StateProviderRunning)

	if c.cfg.InternetAccessible {
		if err := c.ensureAddress(ctx, res); err != nil {
			return err
		}
	}
	c.setState(ctx, StateNetworkReady)

	if err := c.mgr.compute.ReloadAttributes(ctx, res); err != nil {
		return c.fail(StepReload, providerErr(err))
	}

	c.setState(ctx, StateAwaitingGuestReady)
	if err := c.awaitReadiness(ctx); err != nil {
		return c.fail(StepReadiness, err)
	}
	c.setState(ctx, StateStarted)

	if ip, ok := c.PublicIPAddress(); ok {
		log.Info("instance started", o11y.AttrID, res.ID, "public_ip", ip)
	} else {
		log.Info("instance started", o11y.AttrID, res.ID)
	}
	return nil
}

// discoverOrCreate returns the resource of the instance, creating and tagging
// one when none exists. Concurrent calls for one identity share one result.
// The shared work ignores cancellation so that no caller aborts it for the
// others and a created resource is always tagged.
func (c *Controller) discoverOrCreate(ctx context.Context, subnetID string) (*Resource, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := c.mgr.creates.Do(c.id.String(), func() (any, error) {
		res, err := c.discover(ctx)
		if err != nil {
			return nil, err
		}
		if res != nil {
			clog.FromContext(ctx).Info("adopting existing instance", o11y.AttrID, res.ID, "state", res.State)
			return res, nil
		}
		return c.create(ctx, subnetID)
	})
	if err != nil {
		return nil, err
	}

	// Callers sharing a result each own their copy.
	res := *v.(*Resource)
	return &res, nil
}

func (c *Controller) create(ctx context.Context, subnetID string) (*Resource, error) {
	log := clog.FromContext(ctx)
	c.setState(ctx, StateCreating)

	filter := ImageFilter{OS: c.cfg.OS}
	images, err := c.mgr.compute.ListImages(ctx, filter)
	if err != nil {
		return nil, c.fail(StepImage, providerErr(err))
	}
	img, err := SelectImage(images, filter)
	if err != nil {
		return nil, c.fail(StepImage, err)
	}

	url, err := c.mgr.readiness.PresignedPutURL(ctx, c.id)
	if err != nil {
		return nil, c.fail(StepCreate, providerErr(err))
	}

	tags := c.id.Tags(c.mgr.now())
	spec := CreateSpec{
		Identity:       c.id.String(),
		ImageID:        img.ID,
		SubnetID:       subnetID,
		PrivateAddress: c.cfg.IPAddress,
		UserData:       userData(c.cfg, url),
		Tags:           tags,
	}

	log.Info("creating instance", "image", img.ID, "subnet_id", subnetID)
	res, err := c.mgr.compute.CreateResource(ctx, spec)
	if err != nil {
		return nil, c.fail(StepCreate, providerErr(err))
	}

	if err := c.mgr.compute.TagResource(ctx, res, tags); err != nil {
		return nil, c.fail(StepTag, providerErr(err))
	}
	log.Info("instance created", o11y.AttrID, res.ID)
	return res, nil
}

// userData is the startup script followed by the readiness notification.
// cloud-init only runs payloads that start with an interpreter line.
func userData(cfg *scenario.InstanceConfig, url string) string {
	payload := NotifyScript(url)
	if script := AssembleStartupScript(cfg.Roles); script != "" {
		payload = script + scriptSeparator + payload
	}
	if !strings.HasPrefix(payload, "#!") {
		payload = defaultInterpreter + payload
	}
	return payload
}

// ensureAddress assigns a public address unless one is already associated,
// as it is for adopted resources.
func (c *Controller) ensureAddress(ctx context.Context, res *Resource) error {
	existing, err := c.mgr.compute.ListAssociatedAddresses(ctx, res)
	if err != nil {
		return c.fail(StepAddress, providerErr(err))
	}
	if len(existing) > 0 {
		c.address = existing[0]
		clog.FromContext(ctx).Debug("public address already assigned", "ip", existing[0].PublicIP)
		return nil
	}

	addr, err := c.mgr.addresses.Assign(ctx, res, c.id)
	if err != nil {
		return c.fail(StepAddress, providerErr(err))
	}
	c.address = addr
	return nil
}

func (c *Controller) awaitReadiness(ctx context.Context) error {
	wctx := ctx
	if c.mgr.readinessTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.mgr.readinessTimeout)
		defer cancel()
	}

	log := clog.FromContext(ctx)
	err := wait.PollUntilContextCancel(wctx, c.mgr.readinessInterval, true, func(ctx context.Context) (bool, error) {
		ready, err := c.mgr.readiness.Exists(ctx, c.id)
		if err != nil {
			return false, providerErr(err)
		}
		if !ready {
			log.Debug("guest not ready yet", "retry_in", c.mgr.readinessInterval)
		}
		return ready, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && wctx.Err() != nil {
		return ErrGuestReadinessTimeout
	}
	return err
}

// Stop tears the instance down: public addresses are released, the resource
// is terminated and the readiness marker is cleared. Stop returns
// ErrResourceNotFound when there is nothing to stop.
func (c *Controller) Stop(ctx context.Context) (err error) {
	ctx, span := c.span(ctx, "lifecycle.Stop")
	defer func() { endSpan(span, err) }()
	log := clog.FromContext(ctx)

	res := c.resource
	if res == nil {
		res, err = c.discover(ctx)
		if err != nil {
			return err
		}
		if res == nil {
			return c.fail(StepDiscover, ErrResourceNotFound)
		}
		c.resource = res
	}
	span.SetAttributes(attribute.String(o11y.AttrID, res.ID))

	if c.cfg.InternetAccessible {
		if err := c.mgr.addresses.Unassign(ctx, res); err != nil {
			return c.fail(StepUnassign, providerErr(err))
		}
		c.address = nil
		c.setState(ctx, StateNetworkTornDown)
	}

	log.Info("terminating instance", o11y.AttrID, res.ID)
	if err := c.mgr.compute.TerminateResource(ctx, res); err != nil {
		return c.fail(StepTerminate, providerErr(err))
	}
	c.setState(ctx, StateTerminating)

	if err := c.mgr.compute.WaitUntilTerminated(ctx, res); err != nil {
		return c.fail(StepTerminate, providerErr(err))
	}
	c.setState(ctx, StateTerminated)

	if err := c.mgr.readiness.Clear(ctx, c.id); err != nil {
		return c.fail(StepClear, providerErr(err))
	}

	c.resource = nil
	c.setState(ctx, StateAbsent)
	log.Info("instance stopped", o11y.AttrID, res.ID)
	return nil
}

// IsNotFound reports whether err means there was no resource to act on.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}
