package controller

import (
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

// Descriptor is the metadata of a controller.
type Descriptor struct {
	Name         string      `json:"name"`
	Identity     string      `json:"identity"`
	Routes       []RouteInfo `json:"routes"`
	ConfigKeys   []string    `json:"config_keys,omitempty"`
	Dependencies []string    `json:"dependencies,omitempty"`
	Tasks        []TaskInfo  `json:"tasks,omitempty"`
	Consumers    []string    `json:"consumers,omitempty"`
}

// RouteInfo describes one route.
type RouteInfo struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	OperationID string   `json:"operation_id"`
	Handler     string   `json:"handler"`
	Identity    string   `json:"identity"`
	Decorators  []string `json:"decorators,omitempty"`
	Managed     []string `json:"managed,omitempty"`
	Result      string   `json:"result"`
}

// TaskInfo describes one scheduled task.
type TaskInfo struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
}

// Describe returns the controller metadata.
func (c *Controller[S, C]) Describe() Descriptor {
	d := Descriptor{Name: c.name, Identity: c.identityMode.String()}
	for _, r := range c.routes {
		info := RouteInfo{
			Method:      r.spec.Method,
			Path:        r.spec.Path,
			OperationID: r.spec.OperationID,
			Handler:     r.spec.Handler,
			Identity:    r.spec.Identity().String(),
			Decorators:  r.spec.Decorators,
		}
		if r.spec.ResultType != nil {
			info.Result = r.spec.ResultType.String()
		}
		for _, m := range r.spec.Managed {
			info.Managed = append(info.Managed, m.Name)
		}
		d.Routes = append(d.Routes, info)
	}
	for _, req := range c.Requirements() {
		d.ConfigKeys = append(d.ConfigKeys, req.Key)
	}
	for _, dep := range c.Dependencies() {
		d.Dependencies = append(d.Dependencies, dep.Name)
	}
	for _, t := range c.tasks {
		d.Tasks = append(d.Tasks, TaskInfo{Name: t.name, Schedule: t.schedule.String()})
	}
	for _, consumer := range c.consumers {
		d.Consumers = append(d.Consumers, typelist.Name(consumer.event))
	}
	return d
}
