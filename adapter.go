package wnbd

import (
	"sync"
	"sync/atomic"

	"github.com/wnbd-io/go-wnbd/internal/constants"
	"github.com/wnbd-io/go-wnbd/internal/interfaces"
	"github.com/wnbd-io/go-wnbd/internal/rundown"
	"github.com/wnbd-io/go-wnbd/internal/uapi"
)

// Adapter is the top-level registry for one process's disk set (spec §3,
// "Adapter"; §4.7, "Adapter Registry"). One Adapter is created per process
// or driver load.
type Adapter struct {
	HostPort interfaces.HostPort
	Logger   interfaces.Logger

	mu      sync.Mutex
	byAddr  map[scsiAddr]*Disk
	byConn  map[uint64]*Disk
	byName  map[string]*Disk
	lunUsed [constants.MaxBuses][constants.MaxTargetsPerBus][constants.MaxLunsPerTarget]bool
	connSeq atomic.Uint64

	rundown       *rundown.Counter
	globalRemoval chan struct{}
	removeOnce    sync.Once

	options *Options
}

// NewAdapter builds an empty Adapter bound to hostPort. logger may be nil.
func NewAdapter(hostPort interfaces.HostPort, logger interfaces.Logger) *Adapter {
	return &Adapter{
		HostPort:      hostPort,
		Logger:        logger,
		byAddr:        make(map[scsiAddr]*Disk),
		byConn:        make(map[uint64]*Disk),
		byName:        make(map[string]*Disk),
		rundown:       rundown.New(),
		globalRemoval: make(chan struct{}),
	}
}

// SetOptions wires the driver option table into the adapter so that
// CreateDisk consults NewMappingsAllowed (spec §4.8).
func (a *Adapter) SetOptions(o *Options) {
	a.options = o
}

// CreateDisk implements the "create" control operation (spec §4.6). It
// allocates addressing and a connection id, dials and optionally
// negotiates an NBD backend when requested, starts the disk's monitor and
// backend workers, and makes it visible to lookups before returning.
func (a *Adapter) CreateDisk(props uapi.WNBDProperties) (*uapi.WNBDConnectionInfo, error) {
	allowed, err := a.newMappingsAllowed()
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, newError("CreateDisk", props.InstanceName, ErrCodeNotAllowed, nil)
	}

	if !a.rundown.Acquire() {
		return nil, newError("CreateDisk", props.InstanceName, ErrCodeRemoving, nil)
	}
	succeeded := false
	defer func() {
		if !succeeded {
			a.rundown.Release()
		}
	}()

	a.mu.Lock()
	if _, exists := a.byName[props.InstanceName]; exists {
		a.mu.Unlock()
		return nil, newError("CreateDisk", props.InstanceName, ErrCodeAlreadyExists, nil)
	}
	addr, ok := a.allocateAddressLocked()
	if !ok {
		a.mu.Unlock()
		return nil, newError("CreateDisk", props.InstanceName, ErrCodeNoFreeAddress, nil)
	}
	// Reserve the name so a concurrent CreateDisk for the same name fails
	// fast instead of racing past this point with a backend dial.
	a.byName[props.InstanceName] = nil
	a.mu.Unlock()

	unreserve := func() {
		a.mu.Lock()
		delete(a.byName, props.InstanceName)
		a.lunUsed[addr.Bus][addr.Target][addr.Lun] = false
		a.mu.Unlock()
	}

	info := &uapi.WNBDConnectionInfo{
		Properties:   props,
		BusNumber:    addr.Bus,
		TargetID:     addr.Target,
		LunID:        addr.Lun,
		ConnectionID: a.connSeq.Add(1),
	}

	disk := newDisk(props, info)
	info.PNPDeviceID = disk.PNPDeviceID

	if props.Flags.UseNBD {
		if err := disk.dialNBD(props); err != nil {
			unreserve()
			return nil, err
		}
	}

	disk.startWorkers(a.HostPort, a.Logger)
	go disk.monitor(a)

	a.mu.Lock()
	a.byName[props.InstanceName] = disk
	a.byAddr[addr] = disk
	a.byConn[info.ConnectionID] = disk
	a.mu.Unlock()

	succeeded = true
	if a.HostPort != nil {
		a.HostPort.NotifyBusChange()
	}
	return info, nil
}

// RemoveDisk implements "soft remove" / "hard remove" (spec §4.6). It
// signals the disk's monitor task and returns without waiting for
// teardown to finish; callers that need to observe completion should poll
// FindByInstanceName until it reports not-found.
func (a *Adapter) RemoveDisk(instanceName string, hard bool) error {
	a.mu.Lock()
	d, ok := a.byName[instanceName]
	a.mu.Unlock()
	if !ok || d == nil {
		return newError("RemoveDisk", instanceName, ErrCodeNotFound, nil)
	}
	d.requestRemoval(hard)
	return nil
}

// Shutdown raises the adapter-wide global-removal signal, causing every
// disk's monitor task to begin hard teardown (spec §4.6 step 1 triggered
// adapter-wide), and begins the adapter rundown so that CreateDisk calls
// made after it fail with ErrCodeRemoving.
func (a *Adapter) Shutdown() {
	a.removeOnce.Do(func() {
		a.rundown.Begin()
		close(a.globalRemoval)
	})
}

// FindByInstanceName looks up a disk by name, acquiring a rundown
// reference on it. release must be called exactly once when the caller is
// done dereferencing the disk. ok is false if no such disk exists or it is
// already tearing down (spec §4.7).
func (a *Adapter) FindByInstanceName(name string) (disk *Disk, release func(), ok bool) {
	a.mu.Lock()
	d, exists := a.byName[name]
	a.mu.Unlock()
	if !exists || d == nil {
		return nil, nil, false
	}
	return acquireOrMiss(d)
}

// FindByAddr looks up a disk by its SCSI address, with the same rundown
// semantics as FindByInstanceName.
func (a *Adapter) FindByAddr(bus, target, lun uint8) (disk *Disk, release func(), ok bool) {
	a.mu.Lock()
	d, exists := a.byAddr[scsiAddr{bus, target, lun}]
	a.mu.Unlock()
	if !exists {
		return nil, nil, false
	}
	return acquireOrMiss(d)
}

// FindByConnID looks up a disk by connection id, with the same rundown
// semantics as FindByInstanceName.
func (a *Adapter) FindByConnID(id uint64) (disk *Disk, release func(), ok bool) {
	a.mu.Lock()
	d, exists := a.byConn[id]
	a.mu.Unlock()
	if !exists {
		return nil, nil, false
	}
	return acquireOrMiss(d)
}

func acquireOrMiss(d *Disk) (*Disk, func(), bool) {
	if !d.Rundown.Acquire() {
		return nil, nil, false
	}
	return d, d.Rundown.Release, true
}

// Enumerate returns a snapshot of every currently registered disk, in no
// particular order. It does not acquire rundown references: callers that
// need to dereference an enumerated disk should look it up again by name
// or connection id.
func (a *Adapter) Enumerate() []*Disk {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Disk, 0, len(a.byName))
	for _, d := range a.byName {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

func (a *Adapter) removeDisk(d *Disk) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byName, d.InstanceName)
	delete(a.byAddr, d.addr)
	delete(a.byConn, d.ConnectionID)
}

func (a *Adapter) releaseAddress(addr scsiAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lunUsed[addr.Bus][addr.Target][addr.Lun] = false
}

// allocateAddressLocked finds the first free (bus,target,lun) slot. Callers
// must hold a.mu.
func (a *Adapter) allocateAddressLocked() (scsiAddr, bool) {
	for bus := 0; bus < constants.MaxBuses; bus++ {
		for target := 0; target < constants.MaxTargetsPerBus; target++ {
			for lun := 0; lun < constants.MaxLunsPerTarget; lun++ {
				if !a.lunUsed[bus][target][lun] {
					a.lunUsed[bus][target][lun] = true
					return scsiAddr{uint8(bus), uint8(target), uint8(lun)}, true
				}
			}
		}
	}
	return scsiAddr{}, false
}

// newMappingsAllowed is a narrow seam so CreateDisk works whether or not
// an Options store is wired in; a nil store (as in tests that don't care
// about the option) always allows creation.
func (a *Adapter) newMappingsAllowed() (bool, error) {
	if a.options == nil {
		return true, nil
	}
	return a.options.GetBool(OptNewMappingsAllowed)
}
