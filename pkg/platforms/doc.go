// Package platforms holds the built-in platform plugins: aws, azure,
// fortinet, gcp, illumio, and paloalto. Each plugin translates resolved
// groups and normalized policies into Terraform HCL for its provider,
// dispatching on the group mapping strategy declared in the registry.
//
// All rendering is deterministic: member lists arrive sorted from the
// registry and every derived collection is sorted before emission.
package platforms
