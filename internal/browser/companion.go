package browser

// bindingName is the window function the companion script reports events
// through. It is backed by page.Expose.
const bindingName = "__cartsyncNotify"

// companionScript installs window.__cartsync in every document of a surface.
//
// performAction is the orchestrator's path: it clicks and returns without
// notifying. addToCart is the verified path for manual use: it waits for the
// cart confirmation and reports the outcome through the binding.
const companionScript = `(() => {
  if (window.__cartsync) return;

  const sleep = (ms) => new Promise((resolve) => setTimeout(resolve, ms));

  const notify = (msg) => {
    const fn = window.` + bindingName + `;
    if (typeof fn !== 'function') return Promise.resolve(null);
    return Promise.resolve(fn(msg)).catch(() => null);
  };

  const productInfo = () => {
    const info = {
      url: location.href,
      asin: '',
      title: '',
      price: '',
      image: '',
      available: true,
    };
    const m = location.pathname.match(/\/dp\/([A-Z0-9]{10})/i);
    if (m) info.asin = m[1];
    const title = document.getElementById('productTitle');
    if (title) info.title = title.textContent.trim();
    const price = document.querySelector('.a-price-whole');
    if (price) info.price = price.textContent.trim();
    const image = document.querySelector('#landingImage, #imgBlkFront');
    if (image) info.image = image.src || '';
    const availability = document.querySelector('#availability span');
    if (availability && /在庫切れ|out of stock|unavailable/i.test(availability.textContent)) {
      info.available = false;
    }
    return info;
  };

  const findButton = () =>
    document.getElementById('add-to-cart-button') ||
    document.querySelector('input[name="submit.add-to-cart"]') ||
    document.querySelector('#buy-now-button');

  const confirmed = () =>
    !!(document.querySelector('.sw-atc-success-message') ||
      document.querySelector('#sw-atc-details-single-container') ||
      document.querySelector('.a-size-medium-plus.a-color-base.sw-atc-text')) ||
    /\/(gp\/)?cart\//.test(location.href);

  const setQuantity = async (quantity) => {
    const select = document.getElementById('quantity');
    if (!select || !(quantity > 1)) return;
    select.value = String(quantity);
    select.dispatchEvent(new Event('change', { bubbles: true }));
    await sleep(500);
  };

  const performAction = async (taskId, quantity) => {
    try {
      await setQuantity(quantity);
      const button = findButton();
      if (!button) return { success: false, error: 'add-to-cart button not found' };
      button.click();
      return { success: true };
    } catch (e) {
      return { success: false, error: String((e && e.message) || e) };
    }
  };

  const addToCart = async (taskId, quantity) => {
    let result = await performAction(taskId, quantity);
    if (result.success) {
      await sleep(2000);
      if (!confirmed()) result = { success: false, error: 'cart addition could not be confirmed' };
    }
    await notify(result.success
      ? { action: 'actionSuccess', taskId }
      : { action: 'actionError', taskId, error: result.error });
    return result;
  };

  window.__cartsync = {
    ping: () => ({ ready: document.readyState !== 'loading' }),
    performAction,
    addToCart,
    productInfo,
  };
})();`

// probeScript reports whether the companion answers in the current document.
const probeScript = `() => {
  if (location.protocol === 'chrome-error:') return { gone: true };
  const c = window.__cartsync;
  if (!c) return { listening: false };
  return { listening: true, ready: !!c.ping().ready };
}`

const performScript = `(taskId, quantity) => window.__cartsync.performAction(taskId, quantity)`

const inspectScript = `() => window.__cartsync ? window.__cartsync.productInfo() : null`

const readyStateScript = `() => document.readyState`
