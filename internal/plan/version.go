package plan

import "github.com/Masterminds/semver/v3"

// checkVersionCompatible resolves the "plan serialization stability"
// open question (spec §9): a plan is version-anchored, and apply
// rejects a plan whose major version differs from the engine's current
// PlanVersion. Minor/patch differences are accepted (additive fields
// only, per the plan JSON shape contract in spec §6).
func checkVersionCompatible(planVersion string) error {
	engineVer, err := semver.NewVersion(PlanVersion)
	if err != nil {
		return newError(ErrVersionMismatch, "internal: engine plan version is malformed")
	}
	planVer, err := semver.NewVersion(planVersion)
	if err != nil {
		return newError(ErrVersionMismatch, "plan_version is not a valid semver string: "+planVersion)
	}
	if planVer.Major() != engineVer.Major() {
		return newError(ErrVersionMismatch,
			"plan was built with an incompatible major version ("+planVer.String()+" vs engine "+engineVer.String()+")")
	}
	return nil
}
