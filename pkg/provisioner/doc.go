/*
Package provisioner creates warm project instances for pools.

A Factory maps each project type to a Variant: the template repository, the
default project name and an ordered list of extra SignalBuilders. Unknown types
are rejected with ErrUnsupportedProjectType.

	factory := provisioner.NewFactory(repo)
	p, err := factory.CreateProvisioner(pool)
	if err != nil {
		return err // unsupported type or incomplete placement
	}
	project, err := p.CreateNewInstance(ctx)

CreateNewInstance builds an unowned, stopped project at the pool's tier and
location, attaches the ProjectCreated signal followed by the variant's own
signals, and hands project, pool item and signals to the repository in a
single write.
*/
package provisioner
