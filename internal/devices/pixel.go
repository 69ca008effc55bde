package devices

const kernelManifestBase = "https://github.com/GrapheneOS/kernel_manifest-"

var (
	kernelGS101 = &KernelSource{
		Name:        "gs101",
		Manifest:    kernelManifestBase + "gs.git",
		BuildScript: "build_slider.sh",
		OutputDir:   "out/slider/dist",
	}
	kernelBluejay = &KernelSource{
		Name:        "gs101",
		Manifest:    kernelManifestBase + "gs.git",
		BuildScript: "build_bluejay.sh",
		OutputDir:   "out/bluejay/dist",
	}
	kernelGS201 = &KernelSource{
		Name:        "gs201",
		Manifest:    kernelManifestBase + "gs.git",
		BuildScript: "build_cloudripper.sh",
		OutputDir:   "out/cloudripper/dist",
	}
	kernelLynx = &KernelSource{
		Name:        "gs201",
		Manifest:    kernelManifestBase + "gs.git",
		BuildScript: "build_lynx.sh",
		OutputDir:   "out/lynx/dist",
	}
	kernelTangorpro = &KernelSource{
		Name:        "gs201",
		Manifest:    kernelManifestBase + "gs.git",
		BuildScript: "build_tangorpro.sh",
		OutputDir:   "out/tangorpro/dist",
	}
	kernelFelix = &KernelSource{
		Name:        "gs201",
		Manifest:    kernelManifestBase + "gs.git",
		BuildScript: "build_felix.sh",
		OutputDir:   "out/felix/dist",
	}
	kernelZuma = &KernelSource{
		Name:        "zuma",
		Manifest:    kernelManifestBase + "zuma.git",
		BuildScript: "build_shusky.sh",
		OutputDir:   "out/shusky/dist",
	}
	kernelAkita = &KernelSource{
		Name:        "zuma",
		Manifest:    kernelManifestBase + "zuma.git",
		BuildScript: "build_akita.sh",
		OutputDir:   "out/akita/dist",
	}
	kernelZumaPro = &KernelSource{
		Name:        "zumapro",
		Manifest:    kernelManifestBase + "zumapro.git",
		BuildScript: "build_caimito.sh",
		OutputDir:   "out/caimito/dist",
	}
)

// Pixel returns the registry of supported Pixel devices
func Pixel() (*SupportedDevices, error) {
	return NewSupportedDevices(
		&Device{Name: "oriole", Friendly: "Pixel 6", Family: "raviole", Kernel: kernelGS101, PreinitDevice: "metadata"},
		&Device{Name: "raven", Friendly: "Pixel 6 Pro", Family: "raviole", Kernel: kernelGS101, PreinitDevice: "metadata"},
		&Device{Name: "bluejay", Friendly: "Pixel 6a", Family: "bluejay", Kernel: kernelBluejay, PreinitDevice: "metadata"},
		&Device{Name: "panther", Friendly: "Pixel 7", Family: "pantah", Kernel: kernelGS201, PreinitDevice: "metadata"},
		&Device{Name: "cheetah", Friendly: "Pixel 7 Pro", Family: "pantah", Kernel: kernelGS201, PreinitDevice: "metadata"},
		&Device{Name: "lynx", Friendly: "Pixel 7a", Family: "lynx", Kernel: kernelLynx, PreinitDevice: "metadata"},
		&Device{Name: "tangorpro", Friendly: "Pixel Tablet", Family: "tangorpro", Kernel: kernelTangorpro, PreinitDevice: "metadata"},
		&Device{Name: "felix", Friendly: "Pixel Fold", Family: "felix", Kernel: kernelFelix, PreinitDevice: "metadata"},
		&Device{Name: "shiba", Friendly: "Pixel 8", Family: "shusky", Kernel: kernelZuma, PreinitDevice: "sda10"},
		&Device{Name: "husky", Friendly: "Pixel 8 Pro", Family: "shusky", Kernel: kernelZuma, PreinitDevice: "sda10"},
		&Device{Name: "akita", Friendly: "Pixel 8a", Family: "akita", Kernel: kernelAkita, PreinitDevice: "sda10"},
		&Device{Name: "tokay", Friendly: "Pixel 9", Family: "caimito", Kernel: kernelZumaPro, PreinitDevice: "sda10"},
		&Device{Name: "caiman", Friendly: "Pixel 9 Pro", Family: "caimito", Kernel: kernelZumaPro, PreinitDevice: "sda10"},
		&Device{Name: "komodo", Friendly: "Pixel 9 Pro XL", Family: "caimito", Kernel: kernelZumaPro, PreinitDevice: "sda10"},
		// kernel and preinit partition not mapped yet
		&Device{Name: "comet", Friendly: "Pixel 9 Pro Fold", Family: "comet"},
	)
}
