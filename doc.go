// github.com/cavelab/devices contains drivers for the sensors used in our survey
// instruments, currently the PNI RM3100 magnetometer. The top-level package holds
// the SPI, I2C and GPIO interfaces the drivers are written against together with
// implementations backed by kidoman/embd. Each device driver is in its own directory
// and is stand-alone. Simple commands to test the devices can be found in the cmd
// directory tree.
package devices
