package ingress

import (
	"github.com/hacker-cb/docklite/internal/compose"
	"github.com/hacker-cb/docklite/internal/domain"
)

// BuildRoutes derives the authoritative route set from project records and
// live containers. One route per project: the domain points at the running
// container of the definition's first service. Projects whose route-facing
// container is not running simply produce no route.
func BuildRoutes(projects []domain.Project, containers []domain.Container) []domain.Route {
	byProject := make(map[string][]domain.Container)
	for _, ctr := range containers {
		if ctr.ProjectID == "" || !ctr.Running() {
			continue
		}
		byProject[ctr.ProjectID] = append(byProject[ctr.ProjectID], ctr)
	}

	var routes []domain.Route
	for _, project := range projects {
		candidates := byProject[project.ID]
		if len(candidates) == 0 {
			continue
		}
		def, err := compose.Parse(project.ComposeContent)
		if err != nil {
			continue
		}
		first, ok := def.First()
		if !ok {
			continue
		}
		for _, ctr := range candidates {
			if ctr.Service != first.Name || ctr.Address == "" {
				continue
			}
			routes = append(routes, domain.Route{
				Domain:    project.Domain,
				ProjectID: project.ID,
				Service:   first.Name,
				Target:    ctr.Address,
				Port:      compose.DetectPort(def),
			})
			break
		}
	}
	return routes
}
