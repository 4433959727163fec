package ports

// LoadProbe returns host CPU utilisation in percent.
type LoadProbe interface {
	CPUPercent() (float64, error)
}
